package protocol

// Kind is the closed set of inbound message kinds.
type Kind int

const (
	KindUnknown Kind = iota
	KindState
	KindError
	KindMetrics
	KindInterrupt
	KindTranscription
	KindReceipt
	KindVoiceprint
)

// Wire object names.
const (
	ObjectAssistantTranscription = "assistant.transcription"
	ObjectUserTranscription      = "user.transcription"
	ObjectInterrupt              = "message.interrupt"
	ObjectMetrics                = "message.metrics"
	ObjectError                  = "message.error"
	ObjectInfo                   = "message.info"
	ObjectState                  = "message.state"
	ObjectVoiceprint             = "message.sal_status"
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	KindState:         "state",
	KindError:         "error",
	KindMetrics:       "metrics",
	KindInterrupt:     "interrupt",
	KindTranscription: "transcription",
	KindReceipt:       "receipt",
	KindVoiceprint:    "voiceprint",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

var objectKinds = map[string]Kind{
	ObjectAssistantTranscription: KindTranscription,
	ObjectUserTranscription:      KindTranscription,
	ObjectInterrupt:              KindInterrupt,
	ObjectMetrics:                KindMetrics,
	ObjectError:                  KindError,
	ObjectInfo:                   KindReceipt,
	ObjectState:                  KindState,
	ObjectVoiceprint:             KindVoiceprint,
}

// ClassifyObject maps a wire object or custom type string to a Kind.
// Unrecognized values yield KindUnknown.
func ClassifyObject(object string) Kind {
	if kind, ok := objectKinds[object]; ok {
		return kind
	}
	return KindUnknown
}

// Classify reads the "object" field of a decoded envelope.
func Classify(fields map[string]any) Kind {
	object, _ := fields["object"].(string)
	return ClassifyObject(object)
}
