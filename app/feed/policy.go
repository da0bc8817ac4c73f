package feed

import (
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

type Decision string

const (
	DecisionPublish     Decision = "publish"
	DecisionNeedsReview Decision = "needs_review"
)

const (
	ReasonMissingURL           = "missing_url"
	ReasonMissingPublishedAt   = "missing_published_at"
	ReasonDomainNotWhitelisted = "domain_not_whitelisted"
	ReasonRiskKeywordPrefix    = "risk_keyword:"
	ReasonTooOld               = "too_old"
	ReasonAutoPublishDisabled  = "auto_publish_disabled"
)

// PolicyInput is the part of an item the publish policy looks at.
type PolicyInput struct {
	URL         string
	Title       string
	Summary     string
	PublishedAt *time.Time
}

// Evaluate decides whether an item may be published without review. The first
// matching rule wins; reason is empty for DecisionPublish.
func Evaluate(in PolicyInput, settings PublishSettings, now time.Time) (Decision, string) {
	if strings.TrimSpace(in.URL) == "" {
		return DecisionNeedsReview, ReasonMissingURL
	}
	if in.PublishedAt == nil || in.PublishedAt.IsZero() {
		return DecisionNeedsReview, ReasonMissingPublishedAt
	}

	if len(settings.DomainWhitelist) > 0 && !hostWhitelisted(in.URL, settings.DomainWhitelist) {
		return DecisionNeedsReview, ReasonDomainNotWhitelisted
	}

	if keyword, found := matchRiskKeyword(in.Title+"\n"+in.Summary, settings.RiskKeywords); found {
		return DecisionNeedsReview, ReasonRiskKeywordPrefix + keyword
	}

	if maxAge := settings.MaxAge(); maxAge > 0 && now.Sub(*in.PublishedAt) > maxAge {
		return DecisionNeedsReview, ReasonTooOld
	}

	return DecisionPublish, ""
}

func hostWhitelisted(rawURL string, whitelist []string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return false
	}

	for _, domain := range whitelist {
		domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}

	return false
}

func matchRiskKeyword(text string, keywords []string) (string, bool) {
	if len(keywords) == 0 {
		return "", false
	}

	folder := cases.Fold()
	folded := folder.String(text)

	for _, keyword := range keywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(folded, folder.String(keyword)) {
			return keyword, true
		}
	}

	return "", false
}
