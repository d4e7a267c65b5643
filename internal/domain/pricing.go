package domain

// PnL devuelve el resultado bruto de cerrar qty a exitPrice.
// El apalancamiento nunca escala el PnL, solo el margen.
func PnL(side Direction, entryPrice, exitPrice, qty float64) float64 {
	pnl := (exitPrice - entryPrice) * qty
	if side == DirectionShort {
		return -pnl
	}
	return pnl
}

// Commission cobra pct (en %) sobre el nocional cerrado.
func Commission(price, qty, pct float64) float64 {
	if pct <= 0 {
		return 0
	}
	return price * qty * pct / 100
}

// ApplySlippage mueve el precio en contra del trader:
//   - LONG compra más caro y vende más barato
//   - SHORT vende más barato al entrar y recompra más caro al salir
func ApplySlippage(side Direction, price, pct float64, isEntry bool) float64 {
	if pct <= 0 {
		return price
	}
	adverseUp := (side == DirectionLong) == isEntry
	if adverseUp {
		return price * (1 + pct/100)
	}
	return price * (1 - pct/100)
}

// LiquidationPrice usa margen aislado sin maintenance margin:
//
//	long  = entry × (1 − 1/leverage)
//	short = entry × (1 + 1/leverage)
func LiquidationPrice(side Direction, entryPrice float64, leverage int) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	inv := 1 / float64(leverage)
	if side == DirectionShort {
		return entryPrice * (1 + inv)
	}
	return entryPrice * (1 - inv)
}

// StopLossPrice aplica pct (en %) contra la dirección de la posición.
func StopLossPrice(side Direction, entryPrice, pct float64) float64 {
	if side == DirectionShort {
		return entryPrice * (1 + pct/100)
	}
	return entryPrice * (1 - pct/100)
}

// TakeProfitPrice aplica pct (en %) a favor de la dirección de la posición.
func TakeProfitPrice(side Direction, entryPrice, pct float64) float64 {
	if side == DirectionShort {
		return entryPrice * (1 - pct/100)
	}
	return entryPrice * (1 + pct/100)
}

// ReachedFavorable es true si price llegó a target en la dirección de ganancia.
func ReachedFavorable(side Direction, price, target float64) bool {
	if side == DirectionShort {
		return price <= target
	}
	return price >= target
}

// ReachedAdverse es true si price cruzó level en la dirección de pérdida.
func ReachedAdverse(side Direction, price, level float64) bool {
	if side == DirectionShort {
		return price >= level
	}
	return price <= level
}
