package registry

import "github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"

type EntityKey string

const (
	Store            EntityKey = "store"
	CashRegister     EntityKey = "cash-register"
	User             EntityKey = "user"
	Client           EntityKey = "client"
	Inventory        EntityKey = "inventory"
	InventoryHistory EntityKey = "inventory-history"
	Entry            EntityKey = "entry"
	Provider         EntityKey = "provider"
	Sales            EntityKey = "sales"
	Transfer         EntityKey = "transfer"
	Orders           EntityKey = "orders"
	CashTransaction  EntityKey = "cash-transaction"
	CashClosure      EntityKey = "cash-closure"
)

func (k EntityKey) String() string {
	return string(k)
}

// Hop follows a reference from the current row to a related table.
// From is the column on the current row (or "id" for reverse references),
// To is the matched column on the target. The target is an entity of the
// registry when Entity is set, otherwise the raw Table.
type Hop struct {
	Entity      EntityKey
	Table       string
	From        string
	To          string
	RequireTrue string
	OrderBy     []domain.Order
}

// Relation is one step of a relation chain. Following Path left to right
// ends on a row whose tenant column is the inherited tenant.
type Relation struct {
	Name string
	Path []Hop
}

// Descriptor statically describes one entity. Relations is the ordered
// relation chain used for backfill; Checks are the direct references the
// audit compares against the row's own tenant.
type Descriptor struct {
	Key       EntityKey
	Table     string
	Relations []Relation
	Checks    []Relation
}

// Rule is one resolution step. A nil Relation is the terminal fallback.
type Rule struct {
	Tag      string
	Relation *Relation
}

func (d Descriptor) Rules() []Rule {
	rules := make([]Rule, 0, len(d.Relations)+1)
	for i := range d.Relations {
		rules = append(rules, Rule{
			Tag:      domain.InheritReason(d.Relations[i].Name),
			Relation: &d.Relations[i],
		})
	}
	return append(rules, Rule{Tag: domain.ReasonFallback})
}

// ReferenceColumns lists the distinct row columns read by the first hop of
// the given relations, in declaration order.
func ReferenceColumns(relations []Relation) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, rel := range relations {
		if len(rel.Path) == 0 {
			continue
		}
		col := rel.Path[0].From
		if col == "id" {
			continue
		}
		if _, ok := seen[col]; ok {
			continue
		}
		seen[col] = struct{}{}
		cols = append(cols, col)
	}
	return cols
}

func fk(entity EntityKey, column string) Hop {
	return Hop{Entity: entity, From: column, To: "id"}
}

func direct(name string, entity EntityKey, column string) Relation {
	return Relation{Name: name, Path: []Hop{fk(entity, column)}}
}

func builtin() []Descriptor {
	membership := func(requireDefault bool) Hop {
		h := Hop{
			Table: "OrganizationMembership",
			From:  "id",
			To:    "userId",
			OrderBy: []domain.Order{
				{Column: "isDefault", Desc: true},
				{Column: "id"},
			},
		}
		if requireDefault {
			h.RequireTrue = "isDefault"
		}
		return h
	}
	registerStore := Relation{Name: "store", Path: []Hop{
		fk(CashRegister, "cashRegisterId"),
		fk(Store, "storeId"),
	}}

	return []Descriptor{
		{Key: Store, Table: "Store"},
		{
			Key:       CashRegister,
			Table:     "cash_registers",
			Relations: []Relation{direct("store", Store, "storeId")},
			Checks:    []Relation{direct("store", Store, "storeId")},
		},
		{
			Key:   User,
			Table: "User",
			Relations: []Relation{
				{Name: "membership-default", Path: []Hop{membership(true)}},
				{Name: "membership", Path: []Hop{membership(false)}},
			},
		},
		{
			Key:       Client,
			Table:     "Client",
			Relations: []Relation{direct("user", User, "userId")},
			Checks:    []Relation{direct("user", User, "userId")},
		},
		{
			Key:       Inventory,
			Table:     "Inventory",
			Relations: []Relation{direct("store", Store, "storeId")},
			Checks:    []Relation{direct("store", Store, "storeId")},
		},
		{
			Key:   InventoryHistory,
			Table: "InventoryHistory",
			Relations: []Relation{
				direct("inventory", Inventory, "inventoryId"),
				{Name: "store", Path: []Hop{
					fk(Inventory, "inventoryId"),
					fk(Store, "storeId"),
				}},
			},
			Checks: []Relation{direct("inventory", Inventory, "inventoryId")},
		},
		{
			Key:   Entry,
			Table: "Entry",
			Relations: []Relation{
				direct("store", Store, "storeId"),
				direct("user", User, "userId"),
			},
			Checks: []Relation{
				direct("store", Store, "storeId"),
				direct("user", User, "userId"),
				direct("provider", Provider, "providerId"),
			},
		},
		{
			Key:   Provider,
			Table: "Provider",
			Relations: []Relation{{Name: "entry", Path: []Hop{{
				Entity: Entry,
				From:   "id",
				To:     "providerId",
				OrderBy: []domain.Order{
					{Column: "createdAt", Desc: true},
					{Column: "id", Desc: true},
				},
			}}}},
		},
		{
			Key:   Sales,
			Table: "Sales",
			Relations: []Relation{
				direct("store", Store, "storeId"),
				direct("client", Client, "clientId"),
				direct("user", User, "userId"),
			},
			Checks: []Relation{
				direct("store", Store, "storeId"),
				direct("client", Client, "clientId"),
				direct("user", User, "userId"),
			},
		},
		{
			Key:   Transfer,
			Table: "Transfer",
			Relations: []Relation{
				direct("source-store", Store, "sourceStoreId"),
				direct("destination-store", Store, "destinationStoreId"),
			},
			Checks: []Relation{
				direct("source-store", Store, "sourceStoreId"),
				direct("destination-store", Store, "destinationStoreId"),
			},
		},
		{
			Key:   Orders,
			Table: "Orders",
			Relations: []Relation{
				direct("sale", Sales, "saleId"),
				{Name: "sale", Path: []Hop{
					fk(Sales, "saleId"),
					fk(Store, "storeId"),
				}},
			},
			Checks: []Relation{direct("sale", Sales, "saleId")},
		},
		{
			Key:   CashTransaction,
			Table: "cash_transactions",
			Relations: []Relation{
				direct("cash-register", CashRegister, "cashRegisterId"),
				registerStore,
				direct("user", User, "userId"),
			},
			Checks: []Relation{
				direct("cash-register", CashRegister, "cashRegisterId"),
				direct("user", User, "userId"),
			},
		},
		{
			Key:   CashClosure,
			Table: "cash_closures",
			Relations: []Relation{
				direct("cash-register", CashRegister, "cashRegisterId"),
				registerStore,
				direct("user", User, "userId"),
			},
			Checks: []Relation{
				direct("cash-register", CashRegister, "cashRegisterId"),
				direct("user", User, "userId"),
			},
		},
	}
}
