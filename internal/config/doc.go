// Package config defines configuration structures for the bucketslurp CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (BUCKETSLURP_ prefix, bound in cmd/bucketslurp)
//   - YAML configuration file
//
// Later sources override earlier ones through [Config.Merge].
//
// # File format
//
//	module: ali
//	threads: 8
//	output: ./downloads
//	timeout: 10s
//	credentials:
//	  s3:
//	    access_key_id: AKIA...
//	    secret_access_key: ...
//	    region: eu-west-1
//	  b2:
//	    authorization_token: ...
//	  gcs:
//	    user_project: my-billing-project
package config
