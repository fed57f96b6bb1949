package kv

import "strings"

// Key construction for the shared namespace. Every key a component writes
// is built here; ad-hoc concatenation elsewhere is forbidden so that all
// instances address the same layout. Keys never rely on numeric database
// selection — cluster mode has no SELECT, the prefix is the namespace.
//
// Layout:
//
//	<prefix>:job:state:<job_id>     hash
//	<prefix>:job:meta:<job_id>      hash
//	<prefix>:job:events:<job_id>    list
//	<prefix>:job:reasoner:<job_id>  hash

// StateKey returns the key of the per-job state hash.
func (c *Client) StateKey(jobID string) string {
	return c.prefix + ":job:state:" + jobID
}

// MetaKey returns the key of the per-job meta hash.
func (c *Client) MetaKey(jobID string) string {
	return c.prefix + ":job:meta:" + jobID
}

// EventsKey returns the key of the per-job event list.
func (c *Client) EventsKey(jobID string) string {
	return c.prefix + ":job:events:" + jobID
}

// ReasonerKey returns the key of the per-job reasoner session hash.
func (c *Client) ReasonerKey(jobID string) string {
	return c.prefix + ":job:reasoner:" + jobID
}

// StateKeyPattern is the SCAN match pattern for state hashes.
func (c *Client) StateKeyPattern() string {
	return c.prefix + ":job:state:*"
}

// MetaKeyPattern is the SCAN match pattern for meta hashes.
func (c *Client) MetaKeyPattern() string {
	return c.prefix + ":job:meta:*"
}

// JobIDFromStateKey extracts the job id from a state key. Returns "" when
// the key does not belong to this namespace.
func (c *Client) JobIDFromStateKey(key string) string {
	prefix := c.prefix + ":job:state:"
	if !strings.HasPrefix(key, prefix) {
		return ""
	}
	return key[len(prefix):]
}

// JobIDFromMetaKey extracts the job id from a meta key.
func (c *Client) JobIDFromMetaKey(key string) string {
	prefix := c.prefix + ":job:meta:"
	if !strings.HasPrefix(key, prefix) {
		return ""
	}
	return key[len(prefix):]
}
