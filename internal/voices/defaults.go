package voices

// DefaultCatalog returns the built-in voices used when no manifest is
// configured.
func DefaultCatalog() []Entry {
	return []Entry{
		defaultEntry("en_US", "English (US), Female", "en-US", "female", 48),
		defaultEntry("en_GB", "English (UK), Male", "en-GB", "male", 52),
		defaultEntry("es_ES", "Español, Narrador", "es-ES", "female", 50),
		defaultEntry("zh_CN_female", "中文 · 女声", "zh-CN", "female", 62),
	}
}

func defaultEntry(id, name, language, gender string, sizeMB float64) Entry {
	return Entry{
		ID:          id,
		Name:        name,
		Language:    language,
		Gender:      &gender,
		SizeMB:      &sizeMB,
		DownloadURL: defaultDownloadHost + id + modelExtension,
		Filename:    id + modelExtension,
	}
}
