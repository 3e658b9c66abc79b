package api

type createSessionRequest struct {
	Number string `json:"number"`
}

type createSessionResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	SessionID   string `json:"sessionId"`
	SessionName string `json:"sessionName"`
}

type pairingCodeResponse struct {
	Code          string `json:"code,omitempty"`
	Available     bool   `json:"available"`
	Message       string `json:"message,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	SessionName   string `json:"sessionName,omitempty"`
	IsConnected   bool   `json:"isConnected"`
	SessionString string `json:"sessionString,omitempty"`
}

type sessionStatusResponse struct {
	Number           string `json:"number"`
	SessionName      string `json:"sessionName"`
	CreatedAt        int64  `json:"createdAt"`
	HasPairingCode   bool   `json:"hasPairingCode"`
	IsProcessed      bool   `json:"isProcessed"`
	IsConnected      bool   `json:"isConnected"`
	HasSessionString bool   `json:"hasSessionString"`
	Status           string `json:"status"`
	RetryCount       int    `json:"retryCount"`
	LastError        string `json:"lastError,omitempty"`
	Age              int64  `json:"age"`
}

type statsResponse struct {
	TotalActiveSessions int `json:"totalActiveSessions"`
	WaitingSessions     int `json:"waitingSessions"`
	ProcessingSessions  int `json:"processingSessions"`
	ConnectedSessions   int `json:"connectedSessions"`
	CompletedSessions   int `json:"completedSessions"`
	TimeoutSessions     int `json:"timeoutSessions"`
	ErrorSessions       int `json:"errorSessions"`
}

type sessionDataResponse struct {
	SessionID     string `json:"sessionId"`
	SessionName   string `json:"sessionName"`
	Number        string `json:"number"`
	SessionString string `json:"sessionString"`
	Source        string `json:"source"`
}
