package orders

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

const imageBase = "https://paperbloomback.onrender.com/images/"

var starter = []struct {
	name        string
	description string
	price       int64
	category    Category
	stock       int
	image       string
}{
	{"Paper Rose Bouquet", "Handcrafted red paper roses wrapped in premium paper.", 150, CategoryBouquet, 20, "red_rose_bouquet.jpeg"},
	{"Paper Sunflower", "Bright handmade sunflower made from recycled paper.", 30, CategorySingleFlower, 30, "single_sunflower.jpeg"},
	{"Pink rose bouquet", "Elegant white paper lilies for special occasions.", 150, CategoryBouquet, 15, "pink_rose_bouquet.jpeg"},
	{"Custom Name Flower Box", "Personalized flower box with custom name.", 250, CategorySet, 10, "flower_box2.jpeg"},
	{"Single custom flower", "Set of 5 colorful paper tulips in a small vase.", 30, CategorySingleFlower, 25, "paper_tulips.jpeg"},
	{"Single Paper rose", "Lifelike paper orchid in a decorative ceramic pot.", 20, CategorySingleFlower, 12, "paper_orchid.jpeg"},
	{"Various color bouquet", "Mixed paper flowers basket perfect for birthday celebrations.", 150, CategoryBouquet, 18, "birthday_basket.jpeg"},
	{"Mixed flower bouquet", "3-meter garland of white and yellow paper daisies.", 150, CategoryBouquet, 22, "daisy_garland.jpeg"},
	{"Single minimal rose", "Large paper peonies in various pastel colors.", 20, CategorySingleFlower, 14, "paper_peony.jpeg"},
	{"Various color singles", "Complete kit to create a beautiful paper flower wedding arch.", 20, CategorySingleFlower, 8, "wedding_arch_kit.jpeg"},
}

// StarterCatalog returns fresh products for seeding an empty shop.
func StarterCatalog() []*Product {
	out := make([]*Product, 0, len(starter))
	for _, s := range starter {
		p, err := NewProduct(s.name, decimal.NewFromInt(s.price), s.category, s.stock)
		if err != nil {
			panic(err)
		}
		p.Description = s.description
		p.Image = imageBase + s.image
		out = append(out, p)
	}
	return out
}

// SeedCatalog saves the products whose name is not in the catalog yet and
// returns the ones it added. Existing products keep their stock and price.
func SeedCatalog(ctx context.Context, tx Tx, products []*Product) ([]*Product, error) {
	existing, err := tx.Catalog().List(ctx, false)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, p := range existing {
		have[strings.ToLower(strings.TrimSpace(p.Name))] = true
	}

	var added []*Product
	for _, p := range products {
		key := strings.ToLower(strings.TrimSpace(p.Name))
		if have[key] {
			continue
		}
		if err := tx.Catalog().Save(ctx, p); err != nil {
			return nil, err
		}
		have[key] = true
		added = append(added, p)
	}
	return added, nil
}
