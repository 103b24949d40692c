package model

import "time"

// Stage names one enrichment step.
type Stage string

const (
	StageCoerce   Stage = "coerce"
	StageDocument Stage = "document"
	StageExtract  Stage = "extract"
	StageValidate Stage = "validate"
	StageScore    Stage = "score"
	StageSink     Stage = "sink"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageCoerce, StageDocument, StageExtract, StageValidate, StageScore, StageSink}

// ErrorClass is the failure taxonomy used for retry and skip decisions.
type ErrorClass string

const (
	ClassTransientNetwork   ErrorClass = "TRANSIENT_NETWORK"
	ClassInvalidDocument    ErrorClass = "INVALID_DOCUMENT"
	ClassMalformedOutput    ErrorClass = "MALFORMED_OUTPUT"
	ClassSourceFormatChange ErrorClass = "SOURCE_FORMAT_CHANGE"
	ClassConfigurationError ErrorClass = "CONFIGURATION_ERROR"
	// ClassUpstreamRejected is a non-retriable 4xx from a remote service.
	ClassUpstreamRejected ErrorClass = "UPSTREAM_REJECTED"
	// ClassInternal covers local failures that fit no other class.
	ClassInternal ErrorClass = "INTERNAL"
)

// FailureRecord describes why a stage was skipped for a record. It is kept
// in memory and written to the audit log, never to the primary store.
type FailureRecord struct {
	ResourceID string     `json:"resource_id"`
	Stage      Stage      `json:"stage"`
	Class      ErrorClass `json:"class"`
	Detail     string     `json:"detail"`
	Retries    int        `json:"retries"`
	At         time.Time  `json:"at"`
}
