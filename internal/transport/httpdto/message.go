package httpdto

type SendMessageRequest struct {
	Text string `json:"text"`
}
