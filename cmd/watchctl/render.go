package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/kjannette/stockwatch-backend/internal/watchlist"
)

func printMarkdown(md string) {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err == nil {
		var out string
		if out, err = r.Render(md); err == nil {
			fmt.Print(out)
			return
		}
	}
	fmt.Fprintf(os.Stderr, "render: %v\n", err)
	fmt.Print(md)
}

// renderState formats a dashboard snapshot as markdown: header, banner,
// quote table in watchlist order, then news.
func renderState(id string, s *watchlist.Snapshot) string {
	var b strings.Builder

	who := "Anonymous"
	if s.Identity != nil && s.Identity.DisplayName != "" {
		who = s.Identity.DisplayName
	}
	fmt.Fprintf(&b, "# Stock Watchlist\n\nSession `%s` · signed in as **%s**", id, who)
	if s.LastUpdated != nil {
		fmt.Fprintf(&b, " · updated %s", s.LastUpdated.Local().Format(time.Kitchen))
	}
	if s.Loading {
		b.WriteString(" · _refreshing_")
	}
	b.WriteString("\n\n")

	if s.Banner != "" {
		fmt.Fprintf(&b, "> **%s**\n\n", s.Banner)
	}

	ov := s.Overview
	fmt.Fprintf(&b, "%d symbols · %d up · %d down · %d flat · avg %+.2f%%\n\n",
		ov.Symbols, ov.Gainers, ov.Losers, ov.Unchanged, ov.AvgPercentChange)

	b.WriteString("| Symbol | Price | Change | % | High | Low |\n")
	b.WriteString("|---|---:|---:|---:|---:|---:|\n")
	for _, sym := range s.Symbols {
		q, ok := s.Quotes[sym]
		if !ok {
			fmt.Fprintf(&b, "| %s | … | | | | |\n", sym)
			continue
		}
		f := q.Fields()
		pct := "n/a"
		if f.PercentChange != nil {
			pct = fmt.Sprintf("%+.2f%%", *f.PercentChange)
		}
		fmt.Fprintf(&b, "| %s | %.2f | %+.2f | %s | %.2f | %.2f |\n",
			sym, f.CurrentPrice, f.PriceChange, pct, f.High, f.Low)
	}

	if len(s.News) > 0 {
		b.WriteString("\n## Market News\n\n")
		for _, n := range s.News {
			if n.URL != "" {
				fmt.Fprintf(&b, "- [%s](%s)", n.Headline, n.URL)
			} else {
				fmt.Fprintf(&b, "- %s", n.Headline)
			}
			if n.Source != "" {
				fmt.Fprintf(&b, " · %s", n.Source)
			}
			if !n.PublishedAt.IsZero() {
				fmt.Fprintf(&b, " · %s", n.PublishedAt.Format("Jan 2 15:04"))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
