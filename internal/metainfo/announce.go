package metainfo

// AnnounceURLs returns every tracker URL found in the announce, announce-list and trackers keys.
// Lists may be nested one level (tiers); they are flattened in order.
func (m *MetaInfo) AnnounceURLs() []string {
	var urls []string
	if s := m.Announce(); s != "" {
		urls = append(urls, s)
	}
	for _, key := range []string{keyAnnounceList, keyTrackers} {
		l, ok := m.dict[key].([]interface{})
		if !ok {
			continue
		}
		for _, item := range l {
			switch t := item.(type) {
			case string:
				urls = append(urls, t)
			case []interface{}:
				for _, s := range t {
					if s, ok := s.(string); ok {
						urls = append(urls, s)
					}
				}
			}
		}
	}
	return urls
}
