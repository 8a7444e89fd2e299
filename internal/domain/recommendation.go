package domain

// OutfitItem is the public view of one item in a recommendation.
type OutfitItem struct {
	ImageID     string      `json:"image_id"`
	ImageURL    string      `json:"image_url"`
	Description string      `json:"description"`
	Title       string      `json:"title"`
	Type        ApparelType `json:"type"`
}

// Recommendation pairs an anchor item with the recommended complement.
type Recommendation struct {
	Status          string     `json:"status"`
	BaseItem        OutfitItem `json:"base_item"`
	RecommendedItem OutfitItem `json:"recommended_item"`
}
