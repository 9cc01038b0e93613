package jobs

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/xml"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storj.io/cratesregistry/database"
	"storj.io/cratesregistry/objectstore"
)

// rssItemLimit matches the original's NUM_ITEMS constant for both feeds.
const rssItemLimit = 100

// rssChannel and rssItem are a minimal RSS 2.0 document, encoded with
// encoding/xml. No example repo in the pack imports a dedicated RSS
// library (the closest precedent, the original Rust implementation's
// `rss` crate, has no idiomatic Go counterpart in the corpus), so this is
// one of the few places this core falls back to the standard library, as
// package tarball (archive/tar, compress/gzip) and package indexformat
// (encoding/json) also do for fixed, well-known formats.
type rssChannel struct {
	XMLName     xml.Name  `xml:"channel"`
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Language    string    `xml:"language"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description,omitempty"`
	GUID        string `xml:"guid"`
	PubDate     string `xml:"pubDate"`
}

type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

func marshalFeed(ch rssChannel) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(rssDocument{Version: "2.0", Channel: ch}); err != nil {
		return nil, Error.Wrap(fmt.Errorf("encode rss feed: %w", err))
	}
	return buf.Bytes(), nil
}

// FeedSyncer rebuilds and uploads the registry's two site-wide RSS feeds.
type FeedSyncer struct {
	DB     *sql.DB
	Store  objectstore.Store
	Domain string
	Log    *zap.Logger
}

// SyncCratesFeed handles the rss_sync_crates_feed job: the newest crates,
// newest first.
func (f *FeedSyncer) SyncCratesFeed(ctx context.Context, data []byte) error {
	crates, err := database.ListNewestCrates(ctx, f.DB, rssItemLimit)
	if err != nil {
		return Error.Wrap(fmt.Errorf("load newest crates for feed: %w", err))
	}

	items := make([]rssItem, 0, len(crates))
	for _, c := range crates {
		link := fmt.Sprintf("https://%s/crates/%s", f.Domain, c.Crate.Name)
		items = append(items, rssItem{
			Title:       fmt.Sprintf("New crate created: %s", c.Crate.Name),
			Link:        link,
			Description: c.Crate.Description.String,
			GUID:        link,
			PubDate:     c.Crate.CreatedAt.Format(time.RFC1123Z),
		})
	}

	body, err := marshalFeed(rssChannel{
		Title:       "crates.io: new crates",
		Link:        "https://" + f.Domain + "/",
		Description: "Newly created crates on the registry",
		Language:    "en",
		Items:       items,
	})
	if err != nil {
		return err
	}
	if err := f.Store.Put(ctx, objectstore.RSSCratesPath(), bytes.NewReader(body), int64(len(body))); err != nil {
		return Error.Wrap(fmt.Errorf("upload crates feed: %w", err))
	}
	f.Log.Info("synced crates rss feed", zap.Int("items", len(items)))
	return nil
}

// SyncUpdatesFeed handles the rss_sync_updates_feed job: the most recently
// published versions across every crate, grounded on the original's
// SyncUpdatesFeed job.
func (f *FeedSyncer) SyncUpdatesFeed(ctx context.Context, data []byte) error {
	updates, err := database.ListRecentVersionUpdates(ctx, f.DB, rssItemLimit)
	if err != nil {
		return Error.Wrap(fmt.Errorf("load recent version updates for feed: %w", err))
	}

	items := make([]rssItem, 0, len(updates))
	for _, u := range updates {
		link := fmt.Sprintf("https://%s/crates/%s/%s", f.Domain, u.CrateName, u.Num)
		items = append(items, rssItem{
			Title:       fmt.Sprintf("New crate version published: %s v%s", u.CrateName, u.Num),
			Link:        link,
			Description: u.Description.String,
			GUID:        link,
			PubDate:     u.CreatedAt.Format(time.RFC1123Z),
		})
	}

	body, err := marshalFeed(rssChannel{
		Title:       "crates.io: recent updates",
		Link:        "https://" + f.Domain + "/",
		Description: "Recent version publishes on the registry",
		Language:    "en",
		Items:       items,
	})
	if err != nil {
		return err
	}
	if err := f.Store.Put(ctx, objectstore.RSSUpdatesPath(), bytes.NewReader(body), int64(len(body))); err != nil {
		return Error.Wrap(fmt.Errorf("upload updates feed: %w", err))
	}
	f.Log.Info("synced updates rss feed", zap.Int("items", len(items)))
	return nil
}
