// Package manifest computes listing statistics and writes the per-bucket
// downloads.log file:
//
//	Total files: 3
//	Total size: 0.00 MB
//
//	File URLs:
//	https://bucket.oss-cn-hangzhou.aliyuncs.com/a.txt
//	...
package manifest
