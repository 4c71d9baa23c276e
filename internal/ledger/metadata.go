package ledger

import (
	"encoding/json"
	"fmt"
)

// MetadataKind tags the shape of a transaction's metadata.
type MetadataKind string

const (
	MetadataConsumption MetadataKind = "consumption"
	MetadataAnalysis    MetadataKind = "analysis"
	MetadataRefund      MetadataKind = "refund"
	MetadataGrant       MetadataKind = "grant"
)

// Metadata is the closed set of shapes a transaction may carry. Only the
// types in this package implement it.
type Metadata interface {
	metadataKind() MetadataKind
}

// ConsumptionMetadata describes a generic debit from an internal caller.
type ConsumptionMetadata struct {
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId,omitempty"`
}

// AnalysisMetadata ties a debit to an analysis run.
type AnalysisMetadata struct {
	CaseID       string `json:"caseId"`
	AnalysisType string `json:"analysisType"`
	RunID        string `json:"runId"`
}

// RefundMetadata explains why credits were returned.
type RefundMetadata struct {
	Cause string `json:"cause"`
	RunID string `json:"runId,omitempty"`
}

// GrantMetadata records where granted credits came from.
type GrantMetadata struct {
	Source      string `json:"source"`
	ExternalRef string `json:"externalRef,omitempty"`
}

func (ConsumptionMetadata) metadataKind() MetadataKind { return MetadataConsumption }
func (AnalysisMetadata) metadataKind() MetadataKind    { return MetadataAnalysis }
func (RefundMetadata) metadataKind() MetadataKind      { return MetadataRefund }
func (GrantMetadata) metadataKind() MetadataKind       { return MetadataGrant }

type metadataEnvelope struct {
	Kind MetadataKind    `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodeMetadata renders m as {"kind":..., "data":...}. A nil m encodes to nil.
func EncodeMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(metadataEnvelope{Kind: m.metadataKind(), Data: data})
}

// DecodeMetadata parses an envelope written by EncodeMetadata.
func DecodeMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var env metadataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	var out Metadata
	switch env.Kind {
	case MetadataConsumption:
		var m ConsumptionMetadata
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, err
		}
		out = m
	case MetadataAnalysis:
		var m AnalysisMetadata
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, err
		}
		out = m
	case MetadataRefund:
		var m RefundMetadata
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, err
		}
		out = m
	case MetadataGrant:
		var m GrantMetadata
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, err
		}
		out = m
	default:
		return nil, fmt.Errorf("unknown metadata kind %q", env.Kind)
	}
	return out, nil
}
