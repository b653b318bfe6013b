package db

func DefaultSettings(chatID int64) *Settings {
	return &Settings{
		ID:                     chatID,
		Language:               "en",
		GreetingEnabled:        true,
		ProfanityFilterEnabled: true,
		ToxicityFilterEnabled:  true,
		LinkFilterEnabled:      true,
		FileFilterEnabled:      true,
		CaptchaEnabled:         true,
		ReportSystemEnabled:    false,
		ReportChatID:           0,
		WorkStart:              0,
		WorkEnd:                0,
		Timezone:               "UTC",
		IsClosed:               false,
	}
}
