package ledger

// Key layout. Everything the settlement core persists lives under these
// prefixes; nothing else writes them.
//
//	balance:<uid>            integer account balance
//	invoice:<hash>           Invoice record (JSON)
//	payment:<id>             Payment record (JSON)
//	payment:<hash>           external hash -> payment id index (JSON string)
//	<uid>:payments           newest-first list of payment ids
//	pot:<name>               integer pot balance
//	pot:<name>:payments      newest-first list of contributing payment ids
//	lnurl:<id>               correlation id -> account id
//	zap:<id>                 stored zap receipt event (raw JSON)
//	credit:<hash>:<ref>      settlement dedup guard

func BalanceKey(uid string) string { return "balance:" + uid }

func InvoiceKey(hash string) string { return "invoice:" + hash }

func PaymentKey(id string) string { return "payment:" + id }

func PaymentsKey(uid string) string { return uid + ":payments" }

func PotKey(name string) string { return "pot:" + name }

func PotPaymentsKey(name string) string { return "pot:" + name + ":payments" }

func LnurlKey(id string) string { return "lnurl:" + id }

func ZapKey(id string) string { return "zap:" + id }

func CreditGuardKey(hash, ref string) string { return "credit:" + hash + ":" + ref }
