package vnpay

// IPNResponse — тело ответа на IPN, которое ожидает шлюз.
type IPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// Коды ответа IPN, фиксированные протоколом шлюза.
var (
	IPNSuccess          = IPNResponse{RspCode: "00", Message: "Confirm Success"}
	IPNOrderNotFound    = IPNResponse{RspCode: "01", Message: "Order not found"}
	IPNAlreadyConfirmed = IPNResponse{RspCode: "02", Message: "Order already confirmed"}
	IPNInvalidAmount    = IPNResponse{RspCode: "04", Message: "Invalid amount"}
	IPNFailChecksum     = IPNResponse{RspCode: "97", Message: "Fail checksum"}
	IPNUnknownError     = IPNResponse{RspCode: "99", Message: "Unknown error"}
)
