package settings

// Setting keys persisted per pipeline kind.
const (
	KeyWebhookURL    = "webhook_url"
	KeyWebhookToken  = "webhook_token"
	KeyResponseToken = "response_token"
)

// Settings holds one pipeline's worker integration configuration.
type Settings struct {
	WebhookURL    string `json:"webhook_url"`
	WebhookToken  string `json:"webhook_token"`
	ResponseToken string `json:"response_token"`
}

// Patch carries a partial settings write. Nil fields are left untouched.
type Patch struct {
	WebhookURL    *string `json:"webhook_url"`
	WebhookToken  *string `json:"webhook_token"`
	ResponseToken *string `json:"response_token"`
}

// values flattens a patch into persisted key/value pairs.
func (p Patch) values() map[string]string {
	out := make(map[string]string, 3)
	if p.WebhookURL != nil {
		out[KeyWebhookURL] = *p.WebhookURL
	}
	if p.WebhookToken != nil {
		out[KeyWebhookToken] = *p.WebhookToken
	}
	if p.ResponseToken != nil {
		out[KeyResponseToken] = *p.ResponseToken
	}
	return out
}

func fromValues(values map[string]string) Settings {
	return Settings{
		WebhookURL:    values[KeyWebhookURL],
		WebhookToken:  values[KeyWebhookToken],
		ResponseToken: values[KeyResponseToken],
	}
}
