// Package loader reads scraped articles from a directory of JSON files.
//
// Each *.json file holds either a single article object or an array of
// them. Files and array elements that cannot be decoded, or that lack an id
// or text, are skipped and reported as *types.MalformedInputError.
package loader

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dshills/newscluster/pkg/types"
)

// Result is the outcome of loading a directory.
type Result struct {
	Records   []types.Record
	Files     int
	Malformed []*types.MalformedInputError
}

type rawRecord struct {
	ID          *int64   `json:"id"`
	Datetime    string   `json:"datetime"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	PublishDate string   `json:"publish_date"`
	URL         string   `json:"url"`
	Text        *string  `json:"text"`
}

// LoadDir reads every *.json file in dir in name order.
func LoadDir(ctx context.Context, dir string) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	res := &Result{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		res.Files++

		records, malformed := Decode(path, data)
		res.Records = append(res.Records, records...)
		for _, m := range malformed {
			log.Warn().Str("path", m.Path).Int("index", m.Index).Str("reason", m.Reason).Msg("skipping malformed input")
		}
		res.Malformed = append(res.Malformed, malformed...)
	}

	log.Debug().
		Str("dir", dir).
		Int("files", res.Files).
		Int("records", len(res.Records)).
		Int("malformed", len(res.Malformed)).
		Msg("input loaded")

	return res, nil
}

// Decode parses one file's content. path is only used in error reports.
func Decode(path string, data []byte) ([]types.Record, []*types.MalformedInputError) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, []*types.MalformedInputError{{Path: path, Index: -1, Reason: "empty file"}}
	}

	switch trimmed[0] {
	case '{':
		r, err := decodeRecord(trimmed)
		if err != nil {
			return nil, []*types.MalformedInputError{{Path: path, Index: -1, Reason: err.Error()}}
		}
		return []types.Record{r}, nil

	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, []*types.MalformedInputError{{Path: path, Index: -1, Reason: err.Error()}}
		}
		var (
			records   []types.Record
			malformed []*types.MalformedInputError
		)
		for i, elem := range elems {
			r, err := decodeRecord(elem)
			if err != nil {
				malformed = append(malformed, &types.MalformedInputError{Path: path, Index: i, Reason: err.Error()})
				continue
			}
			records = append(records, r)
		}
		return records, malformed

	default:
		return nil, []*types.MalformedInputError{{Path: path, Index: -1, Reason: "expected an object or an array"}}
	}
}

func decodeRecord(data []byte) (types.Record, error) {
	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.Record{}, err
	}
	if raw.ID == nil {
		return types.Record{}, fmt.Errorf("%w: missing id", types.ErrInvalidRecord)
	}
	if raw.Text == nil {
		return types.Record{}, fmt.Errorf("%w: missing text", types.ErrInvalidRecord)
	}
	return types.Record{
		ID:          *raw.ID,
		Datetime:    raw.Datetime,
		Title:       raw.Title,
		Authors:     raw.Authors,
		PublishDate: raw.PublishDate,
		URL:         raw.URL,
		Text:        *raw.Text,
	}, nil
}
