package protocol

import "time"

// Listing is an auction-house offer of Qty units of Item for Price in total.
type Listing struct {
	ID     string    `json:"id"`
	Item   string    `json:"item"`
	Price  int64     `json:"price"`
	Qty    int       `json:"qty"`
	Seller string    `json:"seller"`
	Time   time.Time `json:"time"`
}

// UnitPrice is the per-unit price of the batch.
func (l Listing) UnitPrice() float64 {
	qty := l.Qty
	if qty <= 0 {
		qty = 1
	}
	return float64(l.Price) / float64(qty)
}

// PlayerState is the ledger view returned to the browser.
type PlayerState struct {
	Currency    int64          `json:"currency"`
	Inventory   map[string]int `json:"inventory"`
	TotalSynths int            `json:"total_synths"`
}

// Requests (browser -> server).

type CredentialsReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SynthReq struct {
	RecipeName string `json:"recipe_name"`
}

type ListReq struct {
	Item  string `json:"item"`
	Price int64  `json:"price"`
	Qty   int    `json:"qty"`
}

type BuyReq struct {
	ListingID string `json:"listing_id"`
}

// Responses (server -> browser). Every response carries Success and a
// human-readable Message; failures also carry a Code.

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

type LoginResp struct {
	Response
	Username string `json:"username,omitempty"`
}

type SyncResp struct {
	Response
	Player  *PlayerState `json:"player,omitempty"`
	Recipes []RecipeView `json:"recipes,omitempty"`
}

type RecipeView struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Tier     int    `json:"tier"`
	Material string `json:"material"`
	Qty      int    `json:"qty"`
}

type SynthResp struct {
	Response
	Result string       `json:"result,omitempty"`
	Roll   int          `json:"roll,omitempty"`
	Synced bool         `json:"synced"`
	Player *PlayerState `json:"player,omitempty"`
}

type BuyResp struct {
	Response
	Player *PlayerState `json:"player,omitempty"`
}

type MarketResp struct {
	Response
	Listings []Listing `json:"listings"`
}

type LeaderboardEntry struct {
	Name     string `json:"name"`
	Currency int64  `json:"currency"`
	Synths   int    `json:"synths"`
}

type LeaderboardResp struct {
	Response
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// Feed messages.

type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Listings        int    `json:"listings"`
}

type MarketEventMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Event           string    `json:"event"`
	Listing         Listing   `json:"listing"`
	Buyer           string    `json:"buyer,omitempty"`
	At              time.Time `json:"at"`
}
