package spatial

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/gisrequestflow/internal/config"
)

// GeometryColumn is the geometry column name ST_Read produces and exports carry.
const GeometryColumn = "geom"

// ParquetGeometryColumn is the GeoParquet default geometry column. It is renamed to
// GeometryColumn on read so every query sees one name.
const ParquetGeometryColumn = "geometry"

// Export drivers.
const (
	DriverGeoPackage = "GPKG"
	DriverShapefile  = "ESRI Shapefile"
)

// quoteIdent wraps an identifier in double quotes, doubling embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteLiteral wraps a value in single quotes, doubling embedded quotes.
func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// sourceExpr is the table expression reading a layer path. GeoParquet is read natively
// with its geometry column aliased, everything else goes through GDAL.
func sourceExpr(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		return fmt.Sprintf("(SELECT * EXCLUDE (%[1]s), %[1]s AS %[2]s FROM read_parquet(%[3]s))",
			ParquetGeometryColumn, GeometryColumn, quoteLiteral(path))
	}
	return fmt.Sprintf("ST_Read(%s)", quoteLiteral(path))
}

func extensionsSQL(environment string) []string {
	stmts := []string{"INSTALL spatial; LOAD spatial;"}
	if environment == config.EnvironmentOnline {
		stmts = append(stmts, "INSTALL httpfs; LOAD httpfs;")
	}
	return stmts
}

// secretSQL builds the backend secret for the online environment.
func secretSQL(name string, c config.SpatialCredentials) string {
	typ := strings.ToUpper(c.Type)
	if typ == "" {
		typ = "S3"
	}
	opts := []string{
		"TYPE " + typ,
		"KEY_ID " + quoteLiteral(c.KeyID),
		"SECRET " + quoteLiteral(c.Secret),
	}
	if c.Region != "" {
		opts = append(opts, "REGION "+quoteLiteral(c.Region))
	}
	if c.Endpoint != "" {
		opts = append(opts, "ENDPOINT "+quoteLiteral(c.Endpoint))
	}
	return fmt.Sprintf("CREATE OR REPLACE SECRET %s (\n\t%s\n)", quoteIdent(name), strings.Join(opts, ",\n\t"))
}

func stageSQL(table, wkt string) string {
	return fmt.Sprintf("CREATE OR REPLACE TEMP TABLE %s AS SELECT ST_GeomFromText(%s) AS %s",
		quoteIdent(table), quoteLiteral(wkt), GeometryColumn)
}

func dropSQL(table string) string {
	return "DROP TABLE IF EXISTS " + quoteIdent(table)
}

// planAreasSQL selects every plan area touching the staged area. Intersects, not
// contains: a partial overlap counts.
func planAreasSQL(planPath, aoiTable string) string {
	return fmt.Sprintf(
		"SELECT p.* EXCLUDE (%[1]s) FROM %[2]s p, %[3]s a WHERE ST_Intersects(p.%[1]s, a.%[1]s)",
		GeometryColumn, sourceExpr(planPath), quoteIdent(aoiTable))
}

func describeSQL(path string) string {
	return "DESCRIBE SELECT * FROM " + sourceExpr(path)
}

// clipSQL materializes the portions of a source layer inside the staged area, keeping
// only fields plus geometry.
func clipSQL(table, path, aoiTable string, fields []string) string {
	cols := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		cols = append(cols, "src."+quoteIdent(f))
	}
	cols = append(cols, fmt.Sprintf("ST_Intersection(src.%[1]s, a.%[1]s) AS %[1]s", GeometryColumn))
	return fmt.Sprintf(
		"CREATE OR REPLACE TEMP TABLE %s AS SELECT %s FROM %s src, %s a WHERE ST_Intersects(src.%s, a.%s)",
		quoteIdent(table), strings.Join(cols, ", "), sourceExpr(path), quoteIdent(aoiTable), GeometryColumn, GeometryColumn)
}

func countSQL(table string) string {
	return "SELECT count(*) FROM " + quoteIdent(table)
}

// copySQL exports a table through GDAL.
func copySQL(table, dest, driver, layerName string) string {
	return fmt.Sprintf("COPY %s TO %s WITH (FORMAT GDAL, DRIVER %s, LAYER_NAME %s)",
		quoteIdent(table), quoteLiteral(dest), quoteLiteral(driver), quoteLiteral(layerName))
}
