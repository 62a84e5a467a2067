package mqttsink

import "strings"

// sanitizeComponent replaces MQTT topic-structure characters and
// whitespace with underscores so a product's cccc/awips_id/product_id can
// never split or wildcard a topic level it didn't intend to.
func sanitizeComponent(s string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"+", "_",
		"#", "_",
	)
	s = replacer.Replace(s)
	s = strings.Join(strings.Fields(s), "_")
	return s
}

// buildTopic renders the default topic template
// {prefix}/{cccc}/{awips_id}/{product_id}, sanitizing each component and
// trimming the result so it never begins or ends with a slash.
func buildTopic(prefix, cccc, awipsID, productID string) string {
	parts := []string{
		sanitizeComponent(prefix),
		sanitizeComponent(cccc),
		sanitizeComponent(awipsID),
		sanitizeComponent(productID),
	}
	nonEmpty := parts[:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Trim(strings.Join(nonEmpty, "/"), "/")
}
