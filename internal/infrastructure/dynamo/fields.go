package dynamo

// DynamoDB attribute names used in expressions across all repos.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldKey            = "key"
	fieldClaimed        = "claimed"
	fieldClaimedAt      = "claimed_at"
	fieldPoolStatus     = "pool_status"
	fieldExternalUserID = "external_user_id"
)

// pool_status mirrors claimed as a string so it can be a GSI hash key.
const (
	statusAvailable = "available"
	statusClaimed   = "claimed"

	poolStatusIndex = "pool_status-index"
)
