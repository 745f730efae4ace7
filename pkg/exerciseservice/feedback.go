package exerciseservice

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Grading statuses reported by the exercise service.
const (
	StatusGraded   = "graded"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusError    = "error"
)

// Feedback is the interpreted result of a grading exchange.
type Feedback struct {
	Async       bool
	Status      string
	Points      int
	MaxPoints   int
	HTML        string
	GradingData map[string]interface{}
}

type jsonFeedback struct {
	Status      string                 `json:"status"`
	Points      *float64               `json:"points"`
	MaxPoints   *float64               `json:"max_points"`
	Feedback    string                 `json:"feedback"`
	Wait        bool                   `json:"wait"`
	GradingData map[string]interface{} `json:"grading_data"`
}

// ParseFeedback interprets a JSON document or an HTML page carrying grading <meta> tags.
// A page that accepts the submission without points means grading continues asynchronously.
func (c *Client) ParseFeedback(body []byte) (Feedback, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Feedback{}, errors.New("empty feedback page")
	}

	var parsed jsonFeedback
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &parsed); err != nil {
			return Feedback{}, errors.New("malformed json feedback")
		}
	} else {
		var err error
		parsed, err = parseHTMLFeedback(trimmed)
		if err != nil {
			return Feedback{}, err
		}
	}

	return c.interpret(parsed)
}

func (c *Client) interpret(parsed jsonFeedback) (Feedback, error) {
	status := strings.ToLower(strings.TrimSpace(parsed.Status))
	feedback := Feedback{
		HTML:        c.sanitizer.Sanitize(parsed.Feedback),
		GradingData: parsed.GradingData,
	}

	switch {
	case status == StatusError || status == StatusRejected:
		msg := strings.TrimSpace(feedback.HTML)
		if msg == "" {
			msg = "grading " + status
		}
		return Feedback{}, errors.New(truncate(msg, 512))
	case parsed.Points != nil && parsed.MaxPoints != nil:
		feedback.Status = StatusGraded
		feedback.Points = int(math.Round(*parsed.Points))
		feedback.MaxPoints = int(math.Round(*parsed.MaxPoints))
		return feedback, nil
	case parsed.Wait || status == StatusAccepted || status == "waiting":
		feedback.Status = StatusAccepted
		feedback.Async = true
		return feedback, nil
	default:
		return Feedback{}, errors.New("feedback carries neither points nor an asynchronous acknowledgement")
	}
}

func parseHTMLFeedback(body []byte) (jsonFeedback, error) {
	var result jsonFeedback
	var bodyContent bytes.Buffer
	inBody := false
	depth := 0

	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			break
		}
		token := tokenizer.Token()

		switch tokenType {
		case html.StartTagToken, html.SelfClosingTagToken:
			if token.Data == "meta" {
				applyMeta(&result, token.Attr)
				continue
			}
			if token.Data == "body" && !inBody {
				inBody = true
				continue
			}
			if inBody && tokenType == html.StartTagToken {
				depth++
			}
		case html.EndTagToken:
			if token.Data == "body" && inBody && depth == 0 {
				inBody = false
				continue
			}
			if inBody && depth > 0 {
				depth--
			}
		}

		if inBody {
			bodyContent.WriteString(token.String())
		}
	}

	if bodyContent.Len() > 0 {
		result.Feedback = bodyContent.String()
	} else {
		result.Feedback = string(body)
	}
	return result, nil
}

func applyMeta(result *jsonFeedback, attrs []html.Attribute) {
	var name, value string
	for _, attr := range attrs {
		switch strings.ToLower(attr.Key) {
		case "name":
			name = strings.ToLower(strings.TrimSpace(attr.Val))
		case "value", "content":
			value = strings.TrimSpace(attr.Val)
		}
	}

	switch name {
	case "status":
		result.Status = value
	case "points":
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			result.Points = &parsed
		}
	case "max-points", "max_points":
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			result.MaxPoints = &parsed
		}
	case "wait":
		result.Wait = value != "" && value != "0" && strings.ToLower(value) != "false"
	}
}
