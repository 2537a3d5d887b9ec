package redis

// Redis key naming conventions for courier data.
// All keys are prefixed with "courier:" to avoid collisions.

const keyPrefix = "courier:"

// ── Job keys ──

// jobKey returns the key for a job entity: courier:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// ── Subscription keys ──

// subscriptionKey returns the key for a subscription entity: courier:sub:{id}
func subscriptionKey(id string) string { return keyPrefix + "sub:" + id }

// subscriptionIDsKey is the Set tracking all subscription IDs for enumeration.
const subscriptionIDsKey = keyPrefix + "sub_ids"

// eventIndexKey returns the Set key tracking subscription IDs for an event
// type: courier:subs:{event}
func eventIndexKey(event string) string { return keyPrefix + "subs:" + event }

// ── Delivery keys ──

// deliveryKey returns the key for a delivery entity: courier:del:{id}
func deliveryKey(id string) string { return keyPrefix + "del:" + id }

// deliveryIDsKey is the Set tracking all delivery IDs for enumeration.
const deliveryIDsKey = keyPrefix + "del_ids"
