package domain

// Product — товар каталога. Механизм сверки трогает только поле Stock.
type Product struct {
	ID          string
	Name        string
	Description string
	PriceMinor  int64
	// Stock — остаток на складе; не опускается ниже нуля.
	Stock    int32
	Images   []string
	Category string
}
