package enums

type PaymentMethod string

const (
	PaymentMethodStars    PaymentMethod = "stars"
	PaymentMethodYooKassa PaymentMethod = "yookassa"
)
