package envelope

import (
	"encoding/json"

	"github.com/drblury/wireflow/internal/bridge/codec"
)

// KindInterrupted marks a call that was cancelled before it produced a
// result. It is produced only by ParseLegacy; the primary wire format has no
// interrupted variant and Encode rejects it.
const KindInterrupted Kind = "interrupted"

// ParseLegacy validates raw bytes against the legacy result-wrapper shape
// used before the envelope format:
//
//	{"_tag":"Success","value":<any JSON>}
//	{"_tag":"Failure","failure":<any JSON>}
//	{"_tag":"Defect","defect":<any JSON>}
//	{"_tag":"Interrupted"}
//
// Matches are mapped onto the equivalent envelope variant; an interrupted
// wrapper maps to KindInterrupted. The boolean reports whether the payload
// is a well-formed wrapper.
func ParseLegacy(raw []byte) (Envelope, bool) {
	var fields map[string]json.RawMessage
	if err := codec.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Envelope{}, false
	}

	tag, ok := stringField(fields, "_tag")
	if !ok {
		return Envelope{}, false
	}

	switch tag {
	case "Success":
		value, ok := fields["value"]
		if !ok {
			return Envelope{}, false
		}
		return Success(value), true

	case "Failure":
		failure, ok := fields["failure"]
		if !ok {
			return Envelope{}, false
		}
		return Failure(legacyFailureTag(failure), failure), true

	case "Defect":
		defect, ok := fields["defect"]
		if !ok {
			return Envelope{}, false
		}
		return Defect(legacyDefectText(defect), defect), true

	case "Interrupted":
		return Envelope{Kind: KindInterrupted}, true
	}

	return Envelope{}, false
}

// legacyFailureTag pulls the "_tag" discriminant out of a legacy failure
// value, matching how tags are derived for the primary format.
func legacyFailureTag(failure json.RawMessage) string {
	var inner map[string]json.RawMessage
	if err := codec.Unmarshal(failure, &inner); err != nil || inner == nil {
		return ""
	}
	tag, _ := stringField(inner, "_tag")
	return tag
}

func legacyDefectText(defect json.RawMessage) string {
	var text string
	if err := codec.Unmarshal(defect, &text); err == nil {
		return text
	}
	return string(defect)
}
