package jobs

// BundleEvent is the payload media-web sends to bundle-lambda. The batch
// record already exists in the store with status "queued".
type BundleEvent struct {
	BatchID     string   `json:"batchId"`
	Chat        string   `json:"chat"`
	ItemIDs     []string `json:"itemIds,omitempty"`
	Kinds       []string `json:"kinds,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
	Transcode   bool     `json:"transcode"`
	Numbered    bool     `json:"numbered,omitempty"`
}
