// Package dynamo provides a calibration Source backed by a DynamoDB table.
//
// Table schema:
//   - Partition key: baseline (string) - "a1-a2" with a1 <= a2
//   - Sort key: start (number) - start of the validity interval in seconds
//   - Attributes: end, freq_min, freq_max, re, im (numbers)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name vistream-calibration \
//	  --attribute-definitions AttributeName=baseline,AttributeType=S AttributeName=start,AttributeType=N \
//	  --key-schema AttributeName=baseline,KeyType=HASH AttributeName=start,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
//
// Solutions of a baseline are loaded with one paginated Query on first use
// and kept in a bounded LRU cache.
package dynamo
