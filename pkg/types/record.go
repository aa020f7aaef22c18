package types

// Record represents a single news article.
//
// Optional fields default to the empty value when absent from the source
// JSON. NormalizedText is derived and excluded from serialization.
type Record struct {
	ID          int64    `json:"id"`
	Datetime    string   `json:"datetime"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	PublishDate string   `json:"publish_date"`
	URL         string   `json:"url"`
	Text        string   `json:"text"`

	NormalizedText string `json:"-"`
}

// PersistedRecord is the projection of a Record written into a leaf
// partition file. Field order is the on-disk order.
type PersistedRecord struct {
	ID          int64    `json:"id"`
	Datetime    string   `json:"datetime"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	PublishDate string   `json:"publish_date"`
	URL         string   `json:"url"`
	Text        string   `json:"text"`
}

// Project returns the persisted projection of the record. Text is the raw
// article text, not the normalized form.
func (r Record) Project() PersistedRecord {
	authors := r.Authors
	if authors == nil {
		authors = []string{}
	}
	return PersistedRecord{
		ID:          r.ID,
		Datetime:    r.Datetime,
		Title:       r.Title,
		Authors:     authors,
		PublishDate: r.PublishDate,
		URL:         r.URL,
		Text:        r.Text,
	}
}

// Usable reports whether the record can take part in clustering.
func (r Record) Usable() bool {
	return r.NormalizedText != ""
}

// IDs returns the ids of the given records in order.
func IDs(records []Record) []int64 {
	ids := make([]int64, len(records))
	for i := range records {
		ids[i] = records[i].ID
	}
	return ids
}

// Partition describes a leaf partition file that has been written.
type Partition struct {
	Dir       string
	Path      string
	Number    int
	RecordIDs []int64
}
