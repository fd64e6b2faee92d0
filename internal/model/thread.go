package model

// BuildThread собирает вложенное дерево из плоских ответов и реакций одного сообщения.
// Порядок ответов и реакций внутри каждого уровня сохраняется.
// Возвращает ответы верхнего уровня и реакции на само сообщение.
func BuildThread(flat []Reply, reactions []Reaction) ([]Reply, []Reaction) {
	children := make(map[string][]int, len(flat))
	for i, r := range flat {
		children[r.ParentID] = append(children[r.ParentID], i)
	}
	byTarget := make(map[string][]Reaction, len(reactions))
	for _, rc := range reactions {
		byTarget[rc.ReplyID] = append(byTarget[rc.ReplyID], rc)
	}

	var build func(parent string) []Reply
	build = func(parent string) []Reply {
		idx := children[parent]
		out := make([]Reply, 0, len(idx))
		for _, i := range idx {
			r := flat[i]
			r.Replies = build(r.ID)
			r.Reactions = nonNil(byTarget[r.ID])
			out = append(out, r)
		}
		return out
	}
	return build(""), nonNil(byTarget[""])
}

// FindReply ищет ответ по id на любой глубине.
func FindReply(replies []Reply, id string) *Reply {
	for i := range replies {
		if replies[i].ID == id {
			return &replies[i]
		}
		if r := FindReply(replies[i].Replies, id); r != nil {
			return r
		}
	}
	return nil
}

func nonNil(rs []Reaction) []Reaction {
	if rs == nil {
		return []Reaction{}
	}
	return rs
}
