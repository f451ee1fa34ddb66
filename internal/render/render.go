// Package render formats cached items and partitions for the terminal.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/Sternrassler/stackcache/pkg/cache"
	"github.com/Sternrassler/stackcache/pkg/syncer"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// DefaultExcerpt is the body excerpt length in runes.
const DefaultExcerpt = 80

// Question holds the fields shown for one item. Items are stored opaque;
// unknown members are ignored and missing ones stay zero.
type Question struct {
	ID         int64    `json:"question_id"`
	Title      string   `json:"title"`
	Score      int      `json:"score"`
	Tags       []string `json:"tags"`
	IsAnswered bool     `json:"is_answered"`
	Answers    int      `json:"answer_count"`
	Body       string   `json:"body"`
	Link       string   `json:"link"`
}

// DecodeQuestion decodes the display fields of an item.
func DecodeQuestion(item json.RawMessage) (Question, error) {
	var q Question
	if err := json.Unmarshal(item, &q); err != nil {
		return Question{}, fmt.Errorf("decode item: %w", err)
	}
	return q, nil
}

// Answer holds the fields shown for one answer.
type Answer struct {
	ID         int64  `json:"answer_id"`
	QuestionID int64  `json:"question_id"`
	Score      int    `json:"score"`
	IsAccepted bool   `json:"is_accepted"`
	Body       string `json:"body"`
}

// DecodeAnswer decodes the display fields of an answer item.
func DecodeAnswer(item json.RawMessage) (Answer, error) {
	var a Answer
	if err := json.Unmarshal(item, &a); err != nil {
		return Answer{}, fmt.Errorf("decode answer: %w", err)
	}
	return a, nil
}

// HTMLText returns the visible text of an HTML fragment with entities
// decoded and whitespace collapsed.
func HTMLText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return collapse(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapse(fragment)
	}
	// keep block boundaries as word breaks
	doc.Find("p, br, li, pre, h1, h2, h3, h4").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return collapse(doc.Text())
}

// Excerpt truncates s to n runes, marking the cut with "...".
func Excerpt(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ItemsOptions tunes Items.
type ItemsOptions struct {
	// Body adds a column with a plain-text body excerpt.
	Body bool

	// Excerpt is the excerpt length; DefaultExcerpt when zero.
	Excerpt int

	// Title is shown above the table.
	Title string
}

// Items writes items as a table. Items that are not JSON objects are shown
// raw in the title column.
func Items(w io.Writer, items []json.RawMessage, opts ItemsOptions) error {
	if opts.Excerpt <= 0 {
		opts.Excerpt = DefaultExcerpt
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	if opts.Title != "" {
		t.SetTitle(opts.Title)
	}

	header := table.Row{"#", "ID", "Score", "Answered", "Title", "Tags"}
	if opts.Body {
		header = append(header, "Body")
	}
	t.AppendHeader(header)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})

	for i, item := range items {
		q, err := DecodeQuestion(item)
		if err != nil {
			row := table.Row{i + 1, "?", "", "", Excerpt(string(item), opts.Excerpt), ""}
			if opts.Body {
				row = append(row, "")
			}
			t.AppendRow(row)
			continue
		}

		row := table.Row{
			i + 1,
			q.ID,
			q.Score,
			yesNo(q.IsAnswered),
			Excerpt(HTMLText(q.Title), opts.Excerpt),
			strings.Join(q.Tags, ", "),
		}
		if opts.Body {
			row = append(row, Excerpt(HTMLText(q.Body), opts.Excerpt))
		}
		t.AppendRow(row)
	}

	t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d items", len(items))})
	t.Render()
	return nil
}

// Answers writes answer items as a table with a plain-text body excerpt.
// opts.Body is ignored; the body is the answer.
func Answers(w io.Writer, items []json.RawMessage, opts ItemsOptions) error {
	if opts.Excerpt <= 0 {
		opts.Excerpt = DefaultExcerpt
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	if opts.Title != "" {
		t.SetTitle(opts.Title)
	}
	t.AppendHeader(table.Row{"#", "ID", "Score", "Accepted", "Answer"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})

	for i, item := range items {
		a, err := DecodeAnswer(item)
		if err != nil {
			t.AppendRow(table.Row{i + 1, "?", "", "", Excerpt(string(item), opts.Excerpt)})
			continue
		}
		t.AppendRow(table.Row{i + 1, a.ID, a.Score, yesNo(a.IsAccepted), Excerpt(HTMLText(a.Body), opts.Excerpt)})
	}

	t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d answers", len(items))})
	t.Render()
	return nil
}

// Partitions writes the partition catalog as a table.
func Partitions(w io.Writer, infos []cache.PartitionInfo) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Partition", "Items", "Schema", "Updated"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})

	total := 0
	for _, info := range infos {
		total += info.Items
		t.AppendRow(table.Row{info.Key, info.Items, info.SchemaVersion, formatTime(info.UpdatedAt)})
	}
	t.AppendFooter(table.Row{strconv.Itoa(len(infos)) + " partitions", total, "", ""})
	t.Render()
	return nil
}

// SyncResults writes one row per refreshed partition. errs, when not nil,
// holds the refresh error of the result at the same index.
func SyncResults(w io.Writer, results []syncer.Result, errs []error) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Partition", "Outcome", "Items", "Pages", "Duration", "Note"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})

	for i, res := range results {
		outcome := string(res.Outcome)
		note := ""
		switch {
		case i < len(errs) && errs[i] != nil:
			outcome = "failed"
			note = errs[i].Error()
		case res.FetchErr != nil:
			note = "fetch failed: " + res.FetchErr.Error()
		case res.CacheErr != nil:
			note = "not cached: " + res.CacheErr.Error()
		}
		t.AppendRow(table.Row{
			res.Key,
			outcome,
			len(res.Items),
			res.Pages,
			res.Duration.Round(time.Millisecond),
			Excerpt(note, DefaultExcerpt),
		})
	}
	t.Render()
	return nil
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
