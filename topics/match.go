package topics

import "strings"

// Match reports whether topic matches filter under MQTT wildcard rules:
// '+' matches exactly one level, '#' matches the remainder (and must be the
// final level). The topic itself must not contain wildcards.
func Match(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if filter == topic {
		return true
	}

	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for i, fLevel := range filterLevels {
		if fLevel == "#" {
			// Matches the parent level and everything below it.
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if fLevel == "+" {
			continue
		}
		if fLevel != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}
