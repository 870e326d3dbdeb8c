// Environment variable substitution
//
// Configuration files may reference the environment with ${VAR_NAME} or
// ${VAR_NAME:-fallback}:
//
//	warehouse:
//	  driver: snowflake
//	  account: ${SNOWFLAKE_ACCOUNT}
//	  role: ${SNOWFLAKE_ROLE:-INGESTION_ROLE}
//
// After the file is read, ApplyEnv lets SNOWFLAKE_*, INGESTION_BATCH_SIZE,
// INGESTION_LOG_LEVEL and DBT_TARGET override the loaded values, so the same
// file serves every environment.
package config
