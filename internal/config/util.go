package config

import "sort"

func sortedNames(parties map[string]PartyEndpoint) []string {
	names := make([]string, 0, len(parties))
	for name := range parties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
