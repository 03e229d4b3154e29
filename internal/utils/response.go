package utils

// Response is the envelope of every JSON body the API returns.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

func SuccessResponse(message string, data interface{}) Response {
	return Response{Success: true, Message: message, Data: data}
}

func ErrorResponse(message, detail string) Response {
	return Response{Success: false, Message: message, Error: detail}
}

// CodedErrorResponse carries a machine readable error code next to the message.
func CodedErrorResponse(message, code, detail string) Response {
	return Response{Success: false, Message: message, Code: code, Error: detail}
}
