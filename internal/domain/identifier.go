package domain

import (
	"math"
	"regexp"
	"strconv"
)

const (
	// ItemCount is the size of the item domain: item1 through item30.
	ItemCount = 30

	// PortfolioCount is the size of the portfolio domain: portfolio1
	// through portfolio10.
	PortfolioCount = 10

	// MaxQuantity is the largest quantity a single holding can reach.
	MaxQuantity int64 = math.MaxInt64
)

var (
	itemRegex      = regexp.MustCompile(`^item([1-9][0-9]*)$`)
	portfolioRegex = regexp.MustCompile(`^portfolio([1-9][0-9]*)$`)
)

// ValidItem reports whether s names an item in the domain, "itemN" with
// 1 <= N <= ItemCount. Leading zeros and signs are rejected so that each
// item has exactly one spelling.
func ValidItem(s string) bool {
	return indexWithin(itemRegex, s, ItemCount)
}

// ValidPortfolioID reports whether s names a portfolio in the domain,
// "portfolioN" with 1 <= N <= PortfolioCount.
func ValidPortfolioID(s string) bool {
	return indexWithin(portfolioRegex, s, PortfolioCount)
}

// ItemName returns the identifier of the n-th item (1-based).
func ItemName(n int) string {
	return "item" + strconv.Itoa(n)
}

// PortfolioID returns the identifier of the n-th portfolio (1-based).
func PortfolioID(n int) string {
	return "portfolio" + strconv.Itoa(n)
}

func indexWithin(re *regexp.Regexp, s string, max int) bool {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return false
	}
	return n >= 1 && n <= max
}
