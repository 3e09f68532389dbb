// Package testutil holds in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

// FakeDynamo is an in-memory DynamoDB supporting the expression forms used by
// the stores in this module:
//
//	conditions: attribute_exists(p), attribute_not_exists(p), p = :v, p < q ...
//	            joined by AND / OR (AND binds tighter, no parentheses)
//	updates:    SET p = :v, p = q + :v, p = if_not_exists(p, :z) + :v
//	            ADD p :v
type FakeDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]item
	keys   map[string]string

	// Err, when set, is returned by every call.
	Err   error
	Calls map[string]int
}

func NewFakeDynamo() *FakeDynamo {
	return &FakeDynamo{
		tables: map[string]map[string]item{},
		keys:   map[string]string{},
		Calls:  map[string]int{},
	}
}

// WithTable registers a table and its string partition key attribute.
func (f *FakeDynamo) WithTable(name, pk string) *FakeDynamo {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[name] = pk
	if _, ok := f.tables[name]; !ok {
		f.tables[name] = map[string]item{}
	}
	return f
}

// Seed marshals v and stores it in table.
func (f *FakeDynamo) Seed(table string, v any) error {
	av, err := attributevalue.MarshalMap(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, err := f.pkOf(table, av)
	if err != nil {
		return err
	}
	f.tables[table][pk] = clone(av)
	return nil
}

// Item returns a copy of the stored item, or nil.
func (f *FakeDynamo) Item(table, pk string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.tables[table][pk]
	if !ok {
		return nil
	}
	return clone(it)
}

// Unmarshal decodes the stored item into out. It reports false when absent.
func (f *FakeDynamo) Unmarshal(table, pk string, out any) (bool, error) {
	it := f.Item(table, pk)
	if it == nil {
		return false, nil
	}
	return true, attributevalue.UnmarshalMap(it, out)
}

// Len returns the number of items in table.
func (f *FakeDynamo) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

func (f *FakeDynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["PutItem"]++
	if f.Err != nil {
		return nil, f.Err
	}
	if err := f.put(*in.TableName, in.Item, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	return &dyn.PutItemOutput{}, nil
}

func (f *FakeDynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["GetItem"]++
	if f.Err != nil {
		return nil, f.Err
	}
	pk, err := f.pkOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := f.tables[*in.TableName][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(it)}, nil
}

func (f *FakeDynamo) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["DeleteItem"]++
	if f.Err != nil {
		return nil, f.Err
	}
	pk, err := f.pkOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	delete(f.tables[*in.TableName], pk)
	return &dyn.DeleteItemOutput{}, nil
}

// Scan returns every matching item in one page, ordered by partition key.
func (f *FakeDynamo) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["Scan"]++
	if f.Err != nil {
		return nil, f.Err
	}
	tbl, ok := f.tables[*in.TableName]
	if !ok {
		return nil, fmt.Errorf("fake dynamo: unknown table %s", *in.TableName)
	}
	pks := make([]string, 0, len(tbl))
	for pk := range tbl {
		pks = append(pks, pk)
	}
	sort.Strings(pks)

	out := &dyn.ScanOutput{}
	for _, pk := range pks {
		it := tbl[pk]
		if in.FilterExpression != nil {
			ok, err := evalCondition(*in.FilterExpression, it, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out.Items = append(out.Items, clone(it))
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func (f *FakeDynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["UpdateItem"]++
	if f.Err != nil {
		return nil, f.Err
	}
	it, err := f.update(*in.TableName, in.Key, in.UpdateExpression, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	return &dyn.UpdateItemOutput{Attributes: it}, nil
}

// TransactWriteItems applies every action or none. A failed condition yields a
// TransactionCanceledException with per-action cancellation reasons.
func (f *FakeDynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["TransactWriteItems"]++
	if f.Err != nil {
		return nil, f.Err
	}

	saved := make(map[string]map[string]item, len(f.tables))
	for name, tbl := range f.tables {
		cp := make(map[string]item, len(tbl))
		for pk, it := range tbl {
			cp[pk] = clone(it)
		}
		saved[name] = cp
	}

	for i, ti := range in.TransactItems {
		var err error
		switch {
		case ti.Put != nil:
			p := ti.Put
			err = f.put(*p.TableName, p.Item, p.ConditionExpression, p.ExpressionAttributeNames, p.ExpressionAttributeValues)
		case ti.Update != nil:
			u := ti.Update
			_, err = f.update(*u.TableName, u.Key, u.UpdateExpression, u.ConditionExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues)
		case ti.ConditionCheck != nil:
			c := ti.ConditionCheck
			err = f.check(*c.TableName, c.Key, c.ConditionExpression, c.ExpressionAttributeNames, c.ExpressionAttributeValues)
		case ti.Delete != nil:
			d := ti.Delete
			var pk string
			if pk, err = f.pkOf(*d.TableName, d.Key); err == nil {
				delete(f.tables[*d.TableName], pk)
			}
		}
		if err != nil {
			f.tables = saved
			var ccf *types.ConditionalCheckFailedException
			if !errors.As(err, &ccf) {
				return nil, err
			}
			reasons := make([]types.CancellationReason, len(in.TransactItems))
			for j := range reasons {
				code := "None"
				if j == i {
					code = "ConditionalCheckFailed"
				}
				reasons[j] = types.CancellationReason{Code: &code}
			}
			msg := "Transaction cancelled"
			return nil, &types.TransactionCanceledException{Message: &msg, CancellationReasons: reasons}
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *FakeDynamo) put(table string, it item, cond *string, names map[string]string, values map[string]types.AttributeValue) error {
	pk, err := f.pkOf(table, it)
	if err != nil {
		return err
	}
	if cond != nil {
		current := f.tables[table][pk]
		ok, err := evalCondition(*cond, current, names, values)
		if err != nil {
			return err
		}
		if !ok {
			return &types.ConditionalCheckFailedException{}
		}
	}
	f.tables[table][pk] = clone(it)
	return nil
}

func (f *FakeDynamo) check(table string, key item, cond *string, names map[string]string, values map[string]types.AttributeValue) error {
	pk, err := f.pkOf(table, key)
	if err != nil {
		return err
	}
	ok, err := evalCondition(*cond, f.tables[table][pk], names, values)
	if err != nil {
		return err
	}
	if !ok {
		return &types.ConditionalCheckFailedException{}
	}
	return nil
}

func (f *FakeDynamo) update(table string, key item, expr, cond *string, names map[string]string, values map[string]types.AttributeValue) (item, error) {
	pk, err := f.pkOf(table, key)
	if err != nil {
		return nil, err
	}
	current, exists := f.tables[table][pk]
	if cond != nil {
		ok, err := evalCondition(*cond, current, names, values)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}

	next := clone(current)
	if !exists {
		next = clone(key)
	}
	if expr != nil {
		if err := applyUpdate(*expr, next, names, values); err != nil {
			return nil, err
		}
	}
	f.tables[table][pk] = next
	return clone(next), nil
}

func (f *FakeDynamo) pkOf(table string, it item) (string, error) {
	name, ok := f.keys[table]
	if !ok {
		return "", fmt.Errorf("fake dynamo: unknown table %s", table)
	}
	av, ok := it[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("fake dynamo: missing string key %s for table %s", name, table)
	}
	return av.Value, nil
}

func clone(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func resolveName(tok string, names map[string]string) string {
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, "#") {
		if n, ok := names[tok]; ok {
			return n
		}
	}
	return tok
}

// operand resolves a placeholder value or an attribute path against it.
func operand(tok string, it item, names map[string]string, values map[string]types.AttributeValue) types.AttributeValue {
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, ":") {
		return values[tok]
	}
	return it[resolveName(tok, names)]
}

func evalCondition(expr string, it item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	for _, disj := range strings.Split(expr, " OR ") {
		all := true
		for _, atom := range strings.Split(disj, " AND ") {
			ok, err := evalAtom(strings.TrimSpace(atom), it, names, values)
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

func evalAtom(atom string, it item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	switch {
	case strings.HasPrefix(atom, "attribute_exists(") && strings.HasSuffix(atom, ")"):
		name := resolveName(atom[len("attribute_exists("):len(atom)-1], names)
		_, ok := it[name]
		return ok, nil
	case strings.HasPrefix(atom, "attribute_not_exists(") && strings.HasSuffix(atom, ")"):
		name := resolveName(atom[len("attribute_not_exists("):len(atom)-1], names)
		_, ok := it[name]
		return !ok, nil
	}

	for _, op := range []string{"<>", "<=", ">=", "=", "<", ">"} {
		parts := strings.SplitN(atom, " "+op+" ", 2)
		if len(parts) != 2 {
			continue
		}
		lhs := operand(parts[0], it, names, values)
		rhs := operand(parts[1], it, names, values)
		if lhs == nil || rhs == nil {
			return op == "<>" && (lhs != nil || rhs != nil), nil
		}
		c, err := compare(lhs, rhs)
		if err != nil {
			return false, err
		}
		switch op {
		case "=":
			return c == 0, nil
		case "<>":
			return c != 0, nil
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		case ">=":
			return c >= 0, nil
		}
	}
	return false, fmt.Errorf("fake dynamo: unsupported condition %q", atom)
}

func compare(a, b types.AttributeValue) (int, error) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, errors.New("fake dynamo: type mismatch")
		}
		return strings.Compare(av.Value, bv.Value), nil
	case *types.AttributeValueMemberN:
		x, err := number(av)
		if err != nil {
			return 0, err
		}
		y, err := number(b)
		if err != nil {
			return 0, err
		}
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return 0, errors.New("fake dynamo: type mismatch")
		}
		if av.Value == bv.Value {
			return 0, nil
		}
		return 1, nil
	}
	return 0, fmt.Errorf("fake dynamo: cannot compare %T", a)
}

func number(av types.AttributeValue) (float64, error) {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("fake dynamo: expected number, got %T", av)
	}
	return strconv.ParseFloat(n.Value, 64)
}

func numberValue(v float64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v, 'f', -1, 64)}
}

func applyUpdate(expr string, it item, names map[string]string, values map[string]types.AttributeValue) error {
	expr = strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(expr, "SET "):
		for _, clause := range splitClauses(expr[len("SET "):]) {
			parts := strings.SplitN(clause, " = ", 2)
			if len(parts) != 2 {
				return fmt.Errorf("fake dynamo: bad SET clause %q", clause)
			}
			target := resolveName(parts[0], names)
			v, err := evalValue(parts[1], it, names, values)
			if err != nil {
				return err
			}
			it[target] = v
		}
		return nil
	case strings.HasPrefix(expr, "ADD "):
		for _, clause := range splitClauses(expr[len("ADD "):]) {
			parts := strings.Fields(clause)
			if len(parts) != 2 {
				return fmt.Errorf("fake dynamo: bad ADD clause %q", clause)
			}
			target := resolveName(parts[0], names)
			delta, err := number(values[parts[1]])
			if err != nil {
				return err
			}
			var cur float64
			if existing, ok := it[target]; ok {
				if cur, err = number(existing); err != nil {
					return err
				}
			}
			it[target] = numberValue(cur + delta)
		}
		return nil
	}
	return fmt.Errorf("fake dynamo: unsupported update %q", expr)
}

// splitClauses splits on commas outside parentheses.
func splitClauses(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

func evalValue(expr string, it item, names map[string]string, values map[string]types.AttributeValue) (types.AttributeValue, error) {
	expr = strings.TrimSpace(expr)
	for _, op := range []string{" + ", " - "} {
		if i := strings.LastIndex(expr, op); i > 0 {
			l, err := evalValue(expr[:i], it, names, values)
			if err != nil {
				return nil, err
			}
			r, err := evalValue(expr[i+len(op):], it, names, values)
			if err != nil {
				return nil, err
			}
			x, err := number(l)
			if err != nil {
				return nil, err
			}
			y, err := number(r)
			if err != nil {
				return nil, err
			}
			if op == " + " {
				return numberValue(x + y), nil
			}
			return numberValue(x - y), nil
		}
	}
	if strings.HasPrefix(expr, "if_not_exists(") && strings.HasSuffix(expr, ")") {
		args := splitClauses(expr[len("if_not_exists(") : len(expr)-1])
		if len(args) != 2 {
			return nil, fmt.Errorf("fake dynamo: bad if_not_exists %q", expr)
		}
		if v, ok := it[resolveName(args[0], names)]; ok {
			return v, nil
		}
		return operand(args[1], it, names, values), nil
	}
	v := operand(expr, it, names, values)
	if v == nil {
		return nil, fmt.Errorf("fake dynamo: unresolved operand %q", expr)
	}
	return v, nil
}
