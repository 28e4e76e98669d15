package codec

// RejectReason is a SessionRejectReason (tag 373) value
type RejectReason int

const (
	RejectInvalidTagNumber             RejectReason = 0
	RejectRequiredTagMissing           RejectReason = 1
	RejectTagNotDefinedForMessageType  RejectReason = 2
	RejectUndefinedTag                 RejectReason = 3
	RejectTagSpecifiedWithoutValue     RejectReason = 4
	RejectValueIsIncorrect             RejectReason = 5
	RejectIncorrectDataFormatForValue  RejectReason = 6
	RejectDecryptionProblem            RejectReason = 7
	RejectSignatureProblem             RejectReason = 8
	RejectCompIDProblem                RejectReason = 9
	RejectSendingTimeAccuracyProblem   RejectReason = 10
	RejectInvalidMsgType               RejectReason = 11
	RejectXMLValidationError           RejectReason = 12
	RejectTagAppearsMoreThanOnce       RejectReason = 13
	RejectTagSpecifiedOutOfOrder       RejectReason = 14
	RejectRepeatingGroupFieldsOutOfOrd RejectReason = 15
	RejectIncorrectNumInGroupCount     RejectReason = 16
	RejectNonDataValueIncludesDelim    RejectReason = 17
	RejectOther                        RejectReason = 99

	// NoRejectReason marks the absence of a pending reason
	NoRejectReason RejectReason = -1
)

var rejectReasonText = map[RejectReason]string{
	RejectInvalidTagNumber:             "Invalid tag number",
	RejectRequiredTagMissing:           "Required tag missing",
	RejectTagNotDefinedForMessageType:  "Tag not defined for this message type",
	RejectUndefinedTag:                 "Undefined tag",
	RejectTagSpecifiedWithoutValue:     "Tag specified without a value",
	RejectValueIsIncorrect:             "Value is incorrect (out of range) for this tag",
	RejectIncorrectDataFormatForValue:  "Incorrect data format for value",
	RejectDecryptionProblem:            "Decryption problem",
	RejectSignatureProblem:             "Signature problem",
	RejectCompIDProblem:                "CompID problem",
	RejectSendingTimeAccuracyProblem:   "SendingTime accuracy problem",
	RejectInvalidMsgType:               "Invalid MsgType",
	RejectXMLValidationError:           "XML validation error",
	RejectTagAppearsMoreThanOnce:       "Tag appears more than once",
	RejectTagSpecifiedOutOfOrder:       "Tag specified out of required order",
	RejectRepeatingGroupFieldsOutOfOrd: "Repeating group fields out of order",
	RejectIncorrectNumInGroupCount:     "Incorrect NumInGroup count for repeating group",
	RejectNonDataValueIncludesDelim:    "Non data value includes field delimiter",
	RejectOther:                        "Other",
}

func (r RejectReason) String() string {
	if text, ok := rejectReasonText[r]; ok {
		return text
	}
	return "Unknown reject reason"
}
