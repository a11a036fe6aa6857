package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Card — карточка товара так, как её отдаёт витрина: цена ещё строка.
// Ядро читает карточку только в момент добавления и никогда не пишет обратно.
type Card struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

// Product — разобранная карточка с ценой в минимальных единицах.
type Product struct {
	ID         string
	Name       string
	PriceMinor int64
}

// Catalog — неизменяемый набор товаров магазина.
type Catalog struct {
	products []Product
	byID     map[string]Product
}

// New разбирает карточки в каталог. Кривая цена — дефект данных каталога:
// в strict-режиме (разработка) загрузка падает, иначе карточка
// пропускается с предупреждением и не может попасть в корзину.
func New(cards []Card, strict bool, logger *log.Entry) (*Catalog, error) {
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}

	c := &Catalog{
		products: make([]Product, 0, len(cards)),
		byID:     make(map[string]Product, len(cards)),
	}

	for _, card := range cards {
		if card.ID == "" || card.Name == "" {
			if strict {
				return nil, fmt.Errorf("catalog card %q/%q: id and name are required", card.ID, card.Name)
			}
			logger.WithFields(log.Fields{"id": card.ID, "name": card.Name}).
				Warn("skipping catalog card without id or name")
			continue
		}
		if _, ok := c.byID[card.ID]; ok {
			if strict {
				return nil, fmt.Errorf("catalog card %q: duplicate id", card.ID)
			}
			logger.WithField("id", card.ID).Warn("skipping duplicate catalog card")
			continue
		}

		priceMinor, err := domain.ParsePriceMinor(card.Price)
		if err != nil {
			if strict {
				return nil, fmt.Errorf("catalog card %q: %w", card.ID, err)
			}
			logger.WithError(err).WithFields(log.Fields{"id": card.ID, "price": card.Price}).
				Warn("skipping catalog card with malformed price")
			continue
		}

		product := Product{ID: card.ID, Name: card.Name, PriceMinor: priceMinor}
		c.products = append(c.products, product)
		c.byID[card.ID] = product
	}

	return c, nil
}

// LoadFile читает JSON-массив карточек из файла.
func LoadFile(path string, strict bool, logger *log.Entry) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var cards []Card
	if err := json.Unmarshal(data, &cards); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}

	return New(cards, strict, logger)
}

// Get возвращает товар по идентификатору карточки.
func (c *Catalog) Get(id string) (Product, error) {
	product, ok := c.byID[id]
	if !ok {
		return Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// Products возвращает копию всех товаров в порядке каталога.
func (c *Catalog) Products() []Product {
	result := make([]Product, len(c.products))
	copy(result, c.products)
	return result
}

// Len возвращает количество товаров.
func (c *Catalog) Len() int {
	return len(c.products)
}
