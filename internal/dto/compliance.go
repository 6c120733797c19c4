package dto

// ComplianceQuery scopes a compliance summary; dates are YYYY-MM-DD, to is exclusive.
type ComplianceQuery struct {
	From string `form:"from" validate:"omitempty,datetime=2006-01-02"`
	To   string `form:"to" validate:"omitempty,datetime=2006-01-02"`
}

// TrendQuery buckets exceptions by period.
type TrendQuery struct {
	Period string `form:"period" validate:"omitempty,oneof=day week month"`
	From   string `form:"from" validate:"omitempty,datetime=2006-01-02"`
	To     string `form:"to" validate:"omitempty,datetime=2006-01-02"`
}

// AuditLogQuery filters the audit read side.
type AuditLogQuery struct {
	ActorID string `form:"actorId"`
	Action  string `form:"action"`
	From    string `form:"from" validate:"omitempty,datetime=2006-01-02"`
	To      string `form:"to" validate:"omitempty,datetime=2006-01-02"`
	Limit   int    `form:"limit" validate:"omitempty,min=1,max=200"`
	Offset  int    `form:"offset" validate:"omitempty,min=0"`
}
