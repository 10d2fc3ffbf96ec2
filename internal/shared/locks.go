package shared

import "fmt"

// JobLockKey builds redis keys guarding singleton background jobs.
func JobLockKey(job string) string {
	return fmt.Sprintf("kitledger:job:%s:lock", job)
}

// BOMLockKey names the advisory lock serialising BOM edits.
func BOMLockKey() string {
	return "kitledger:bom:graph"
}
