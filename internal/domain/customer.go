package domain

// PointsPerUnit — сколько донгов даёт один бонусный балл.
const PointsPerUnit = 1000

// LoyaltyPoints = floor(final_price / 1000).
func LoyaltyPoints(finalPrice int64) int64 {
	if finalPrice <= 0 {
		return 0
	}
	return finalPrice / PointsPerUnit
}

// CustomerPoint — накопленный баланс баллов по номеру телефона.
type CustomerPoint struct {
	Phone  string
	Points int64
}
