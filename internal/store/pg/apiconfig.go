package pg

import "context"

func (s *Store) Configurations(ctx context.Context, company, env, group string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select config_key, config_value from api_configurations
		where company = $1 and environment = $2 and config_group = $3
	`, company, env, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
