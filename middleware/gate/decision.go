package gate

import (
	"time"

	"inspection-gateway/middleware/audit"
)

type Kind int

const (
	Allow Kind = iota
	Block
	Reject
)

func (k Kind) String() string {
	switch k {
	case Allow:
		return "allow"
	case Block:
		return "block"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Stage names, as they appear in logs and audit records.
const (
	StageRead     = "read"
	StageSize     = "size"
	StageRate     = "rate"
	StageValidate = "validate"
	StageScore    = "score"
	StageForward  = "forward"
	StageClient   = "client"
)

// Response details. Clients match on these strings.
const (
	DetailPayloadTooLarge = "Payload Too Large"
	DetailTooManyRequests = "Too Many Requests"
	DetailInvalidInput    = "Invalid Input Format"
	DetailMalformed       = "Malformed Request"
	DetailBlocked         = "Blocked: Suspicious Activity"
	DetailProxyError      = "Internal Proxy Error"
)

// StatusClientClosedRequest marks requests abandoned by the client before a
// decision was reached. Nothing is written back for it.
const StatusClientClosedRequest = 499

// Decision is the single outcome of the pipeline for one request. For Allow,
// Status is zero until the backend answers.
type Decision struct {
	Kind       Kind
	Status     int
	Detail     string
	Reason     string
	Stage      string
	RetryAfter time.Duration
	Score      int
}

func (d Decision) Forward() bool { return d.Kind == Allow }

func (d Decision) AuditOutcome() audit.Outcome {
	switch d.Kind {
	case Allow:
		return audit.OutcomeAllow
	case Block:
		return audit.OutcomeBlock
	default:
		return audit.OutcomeReject
	}
}

func reject(status int, detail, stage, reason string) Decision {
	return Decision{Kind: Reject, Status: status, Detail: detail, Stage: stage, Reason: reason}
}
