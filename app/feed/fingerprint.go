package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"
)

const noDate = "nodate"

// Fingerprint returns the content-addressed stable key of an entry.
func Fingerprint(guid, link, title string, publishedAt *time.Time) string {
	switch {
	case guid != "":
		return hashKey("guid:" + guid)
	case link != "":
		return hashKey("link:" + strings.ToLower(link))
	default:
		return hashKey("fallback:" + strings.ToLower(title) + "|" + isoOrNoDate(publishedAt) + "|" + strings.ToLower(link))
	}
}

// AssignStableKeys fingerprints a fetched batch in order. A guid seen earlier in
// the batch falls back to the link+date key; an entry whose key still collides
// is dropped.
func AssignStableKeys(entries []Entry) []Entry {
	seenGUIDs := make(map[string]bool, len(entries))
	seenKeys := make(map[string]bool, len(entries))
	keyed := make([]Entry, 0, len(entries))

	for _, entry := range entries {
		if entry.GUID != "" && seenGUIDs[entry.GUID] {
			entry.StableKey = hashKey("link:" + strings.ToLower(entry.Link) + "|" + isoOrNoDate(entry.PublishedAt))
			slog.Warn("Duplicate GUID in feed, using link and date key", "guid", entry.GUID, "link", entry.Link)
		} else {
			entry.StableKey = Fingerprint(entry.GUID, entry.Link, entry.Title, entry.PublishedAt)
		}

		if entry.GUID != "" {
			seenGUIDs[entry.GUID] = true
		}

		if seenKeys[entry.StableKey] {
			slog.Warn("Duplicate entry in feed, skipping", "guid", entry.GUID, "link", entry.Link, "title", entry.Title)
			continue
		}
		seenKeys[entry.StableKey] = true

		keyed = append(keyed, entry)
	}

	return keyed
}

func isoOrNoDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return noDate
	}
	return t.UTC().Format(time.RFC3339)
}

func hashKey(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}
