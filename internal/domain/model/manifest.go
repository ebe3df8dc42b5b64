package model

// JobMode describes how submissions are gathered.
type JobMode string

const (
	JobModeDescriptive JobMode = "DESCRIPTIVE"
	JobModeBatch       JobMode = "BATCH"
)

// RequestType selects the kind of work and which oracles handle it.
type RequestType string

const (
	RequestTypeFortune          RequestType = "FORTUNE"
	RequestTypeImageLabelBinary RequestType = "IMAGE_LABEL_BINARY"
)

// Valid returns true if the RequestType is known.
func (t RequestType) Valid() bool {
	return t == RequestTypeFortune || t == RequestTypeImageLabelBinary
}

// NotifiesExchangeOracle reports whether launching this kind of job must
// announce the escrow to the exchange oracle.
func (t RequestType) NotifiesExchangeOracle() bool {
	return t == RequestTypeImageLabelBinary
}

// Manifest is the immutable work description uploaded to object storage and
// referenced from the escrow. Oracles read it, so keys are camelCase.
type Manifest struct {
	SubmissionsRequired     int         `json:"submissionsRequired"`
	RequesterTitle          string      `json:"requesterTitle,omitempty"`
	RequesterDescription    string      `json:"requesterDescription"`
	RequesterAccuracyTarget float64     `json:"requesterAccuracyTarget,omitempty"`
	DataURL                 string      `json:"dataUrl,omitempty"`
	Labels                  []string    `json:"labels,omitempty"`
	Fee                     string      `json:"fee"`
	FundAmount              string      `json:"fundAmount"`
	Mode                    JobMode     `json:"mode"`
	RequestType             RequestType `json:"requestType"`
}

// UploadedFile describes an object written to storage.
type UploadedFile struct {
	Key  string `json:"key"`
	URL  string `json:"url"`
	Hash string `json:"hash"`
}
