package main

// Validação pura: não faz I/O e só opera sobre o que a etapa de lookup devolveu.

// requestedProductIDs devolve os IDs pedidos sem repetição, na ordem do pedido
func requestedProductIDs(items []OrderItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

// indexProducts monta o catálogo id -> produto. Se o store devolver o mesmo id duas vezes, vale o primeiro.
func indexProducts(products []Product) map[string]Product {
	catalog := make(map[string]Product, len(products))
	for _, p := range products {
		if _, ok := catalog[p.ID]; ok {
			continue
		}
		catalog[p.ID] = p
	}
	return catalog
}

// checkProductsExist falha com o primeiro produto inexistente na ordem do pedido
func checkProductsExist(items []OrderItem, catalog map[string]Product) error {
	for _, item := range items {
		if _, ok := catalog[item.ProductID]; !ok {
			return productNotFound(item.ProductID)
		}
	}
	return nil
}

// checkStock falha com o primeiro item sem estoque suficiente na ordem do pedido.
// Sem cumulative cada item é comparado com o estoque original, mesmo que o produto se repita.
func checkStock(items []OrderItem, catalog map[string]Product, cumulative bool) error {
	requested := make(map[string]int, len(items))
	for _, item := range items {
		want := item.Quantity
		if cumulative {
			requested[item.ProductID] += item.Quantity
			want = requested[item.ProductID]
		}
		if catalog[item.ProductID].Quantity < want {
			return insufficientStock(item.ProductID)
		}
	}
	return nil
}

// buildOrderLines captura o preço atual de cada produto
func buildOrderLines(items []OrderItem, catalog map[string]Product) []OrderLine {
	lines := make([]OrderLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, OrderLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     catalog[item.ProductID].Price,
		})
	}
	return lines
}

// buildQuantityUpdates gera uma escrita por produto distinto, na ordem em que aparece no pedido.
// Sem cumulative vale a última ocorrência (estoque original - quantidade daquele item);
// com cumulative as quantidades repetidas são somadas.
func buildQuantityUpdates(items []OrderItem, catalog map[string]Product, cumulative bool) []QuantityUpdate {
	position := make(map[string]int, len(items))
	updates := make([]QuantityUpdate, 0, len(items))
	for _, item := range items {
		current := catalog[item.ProductID].Quantity
		i, ok := position[item.ProductID]
		if !ok {
			position[item.ProductID] = len(updates)
			updates = append(updates, QuantityUpdate{
				ProductID: item.ProductID,
				Previous:  current,
				Quantity:  current - item.Quantity,
			})
			continue
		}
		if cumulative {
			updates[i].Quantity -= item.Quantity
		} else {
			updates[i].Quantity = current - item.Quantity
		}
	}
	return updates
}
