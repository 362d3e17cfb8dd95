package protocol

import "strings"

// Notification is what the document owner shows after a run.
type Notification struct {
	Language Language
	IsError  bool
	Text     string
}

// Present applies the display policy: with no value but some logs the logs
// are the primary output; otherwise the value is shown with logs appended.
// Failures are always framed as errors.
func Present(resp Response) Notification {
	lang := resp.Lang()
	logs := strings.Join(resp.Output(), "\n")

	switch r := resp.(type) {
	case Failure:
		text := lang.Label() + " error: " + r.Message
		if logs != "" {
			text += "\n" + logs
		}
		return Notification{Language: lang, IsError: true, Text: text}
	case Result:
		if r.Value == nil && logs != "" {
			return Notification{Language: lang, Text: lang.Label() + " output:\n" + logs}
		}
		value := "null"
		if r.Value != nil {
			value = *r.Value
		}
		text := lang.Label() + " result: " + value
		if logs != "" {
			text += "\n" + logs
		}
		return Notification{Language: lang, Text: text}
	}
	return Notification{Language: lang, IsError: true, Text: "unrecognized response"}
}
