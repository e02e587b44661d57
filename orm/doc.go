/*
Package orm provides an easy to use db wrapper

Break state space into prefixed sections called Buckets.
* Each bucket contains only one type of model.
* Models are serialized as JSON and validated before they are written.
* Easy queries for one and iteration by key prefix.

Sequences provide monotonic counters stored next to the data they number.
*/
package orm
