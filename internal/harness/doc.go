// Package harness runs conformance scenarios against the ingestion pipeline.
//
// A scenario replays a block log through a chain.Host and an ingest.Pipeline
// under one capture policy, then checks the resulting history with queries.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: alice_edits
//	description: "Two edits of one post"
//	policy: before-only          # default | minimal | before-only
//	blocks_file: ../blocks/alice.yaml
//	assertions:
//	  - type: record_count
//	    count: 2
//	  - type: history
//	    author: alice
//	    permlink: post1
//	    expect:
//	      - seq: 105/1/0
//	        no_before: true
//	      - seq: 100/0/0
//	        before: v1
//	  - type: content_at
//	    author: alice
//	    permlink: post1
//	    at: "1970-01-01T00:20:00Z"
//	    expect:
//	      - seq: 100/0/0
//
// Blocks may be given inline under blocks: instead of blocks_file. A relative
// blocks_file resolves against the scenario's directory.
//
// # Assertion Types
//
//   - record_count: the store holds exactly count records
//   - history: History(author, permlink, oldest, newest, limit) returns expect in order
//   - content_at: ContentAt(author, permlink, at) returns expect[0], or nothing when expect is empty
//   - record: Record(author, permlink, seq) returns expect[0], or nothing when expect is empty
//   - list: List(author, permlink) returns expect in order
//
// # Deterministic Testing
//
// Runs use a fixed session id and an in-memory store unless the caller
// supplies one, so the event trace and record snapshot compare byte for byte
// against golden files.
package harness
