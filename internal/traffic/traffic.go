// Package traffic parses UTM blocks out of free-form manager comments and
// classifies each order's acquisition channel. Parse and Classify are pure:
// same input, same output, no store access.
package traffic

import (
	"regexp"
	"strings"
)

// TrafficType is the confidence bucket for paid attribution.
type TrafficType int

const (
	Unknown TrafficType = iota
	PaidConfirmed
	PaidLikely
	Organic
	PixelOnly
)

func (t TrafficType) String() string {
	switch t {
	case PaidConfirmed:
		return "paid_confirmed"
	case PaidLikely:
		return "paid_likely"
	case Organic:
		return "organic"
	case PixelOnly:
		return "pixel_only"
	default:
		return "unknown"
	}
}

// Platform is the ad/social platform an order is attributed to.
type Platform int

const (
	Other Platform = iota
	Facebook
	TikTok
	Google
	Instagram
	Email
)

func (p Platform) String() string {
	switch p {
	case Facebook:
		return "facebook"
	case TikTok:
		return "tiktok"
	case Google:
		return "google"
	case Instagram:
		return "instagram"
	case Email:
		return "email"
	default:
		return "other"
	}
}

// Attribution is the raw parse result of one manager comment.
type Attribution struct {
	Source   string
	Medium   string
	Campaign string
	Content  string
	Term     string
	Lang     string

	FBP    string
	FBC    string
	TTP    string
	FBClid string

	HasFBP    bool
	HasFBC    bool
	HasTTP    bool
	HasFBClid bool
}

// Empty reports whether no UTM field and no pixel marker was found.
func (a Attribution) Empty() bool {
	return a.Source == "" && a.Medium == "" && a.Campaign == "" &&
		a.Content == "" && a.Term == "" && a.Lang == "" &&
		!a.HasFBP && !a.HasFBC && !a.HasTTP && !a.HasFBClid
}

var (
	utmBlockRe = regexp.MustCompile(`(?i)UTM:\s*([^\n]+)`)
	fbpRe      = regexp.MustCompile(`_fbp[:=]?\s*([^\s;,]*)`)
	fbcRe      = regexp.MustCompile(`_fbc[:=]?\s*([^\s;,]*)`)
	ttpRe      = regexp.MustCompile(`(?:^|[^a-z])ttp[:=]?\s*([^\s;,]*)`)
	fbclidRe   = regexp.MustCompile(`fbclid[:=]?\s*([^\s;,]*)`)
)

// Parse extracts the first "UTM:" block (key: value pairs joined by ";") plus
// standalone pixel markers from anywhere in the comment. Keys are lowercased;
// unknown keys are ignored.
func Parse(comment string) Attribution {
	var a Attribution
	if comment == "" {
		return a
	}

	if m := utmBlockRe.FindStringSubmatch(comment); m != nil {
		for _, part := range strings.Split(m[1], ";") {
			kv := strings.SplitN(part, ":", 2)
			if len(kv) != 2 {
				continue
			}
			key := strings.ToLower(strings.TrimSpace(kv[0]))
			val := strings.TrimSpace(kv[1])
			switch key {
			case "utm_source":
				a.Source = val
			case "utm_medium":
				a.Medium = val
			case "utm_campaign":
				a.Campaign = val
			case "utm_content":
				a.Content = val
			case "utm_term":
				a.Term = val
			case "utm_lang":
				a.Lang = val
			}
		}
	}

	if m := fbpRe.FindStringSubmatch(comment); m != nil {
		a.HasFBP = true
		a.FBP = m[1]
	}
	if m := fbcRe.FindStringSubmatch(comment); m != nil {
		a.HasFBC = true
		a.FBC = m[1]
	}
	if m := ttpRe.FindStringSubmatch(strings.ToLower(comment)); m != nil {
		a.HasTTP = true
		a.TTP = m[1]
	}
	if m := fbclidRe.FindStringSubmatch(comment); m != nil {
		a.HasFBClid = true
		a.FBClid = m[1]
	}
	return a
}

var tiktokCampaignMarkers = []string{"tof", "mof", "bof", "| ss |", "| retarget", "| dynamic"}

// Classify maps an attribution to (TrafficType, Platform) through a fixed
// priority cascade; the first matching rule wins.
func Classify(a Attribution) (TrafficType, Platform) {
	src := strings.ToLower(strings.TrimSpace(a.Source))
	med := strings.ToLower(strings.TrimSpace(a.Medium))
	camp := strings.ToLower(strings.TrimSpace(a.Campaign))
	cont := strings.ToLower(strings.TrimSpace(a.Content))
	term := strings.TrimSpace(a.Term)

	paidMedium := med == "paid" || med == "cpc"

	// Facebook ad naming or the in-app UA marker.
	if strings.HasPrefix(src, "fbads") || strings.HasPrefix(med, "fbads") ||
		strings.HasPrefix(camp, "fbads") || strings.Contains(cont, "facebook_ua") {
		return PaidConfirmed, Facebook
	}
	if a.HasFBC {
		return PaidConfirmed, Facebook
	}
	if a.HasFBClid && paidMedium {
		return PaidConfirmed, Facebook
	}
	for _, marker := range tiktokCampaignMarkers {
		if strings.Contains(camp, marker) {
			return PaidConfirmed, TikTok
		}
	}
	if src == "tiktok" && paidMedium {
		return PaidConfirmed, TikTok
	}
	if src == "google" && (med == "cpc" || isNumeric(camp)) {
		return PaidConfirmed, Google
	}
	if (src == "ig" || src == "instagram") && (med == "social" || med == "organic" || med == "") {
		return Organic, Instagram
	}
	if src == "facebook" && (med == "social" || med == "organic") {
		return Organic, Facebook
	}
	if src == "tiktok" && (med == "social" || med == "organic" || med == "") {
		return Organic, TikTok
	}
	if src == "klaviyo" || src == "email" || med == "email" || med == "klaviyo" {
		return Organic, Email
	}
	// No source and no medium: only pixel markers can rescue attribution.
	if src == "" && med == "" {
		if a.HasFBP || a.HasFBC {
			return PixelOnly, Facebook
		}
		if a.HasTTP {
			return PixelOnly, TikTok
		}
		return Unknown, Other
	}
	// Something UTM-ish is set but matched no rule: grade by medium class.
	if src != "" || med != "" || camp != "" || cont != "" || term != "" {
		tt := Unknown
		switch {
		case paidMedium || med == "ppc" || med == "paid_social" || med == "paid_video":
			tt = PaidLikely
		case med == "social" || med == "organic" || med == "referral":
			tt = Organic
		}
		return tt, platformFromSource(src)
	}
	return Unknown, Other
}

func platformFromSource(src string) Platform {
	switch {
	case strings.Contains(src, "facebook"), src == "fb":
		return Facebook
	case strings.Contains(src, "tiktok"), src == "tt":
		return TikTok
	case strings.Contains(src, "google"):
		return Google
	case src == "ig", strings.Contains(src, "instagram"):
		return Instagram
	case strings.Contains(src, "klaviyo"), strings.Contains(src, "email"):
		return Email
	default:
		return Other
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
